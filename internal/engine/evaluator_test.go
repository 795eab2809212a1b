package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradepipe/internal/model"
	"tradepipe/internal/scanner"
	"tradepipe/pkg/bus"
	"tradepipe/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

func newTestEvaluator(t *testing.T) (*Evaluator, *bus.Bus) {
	t.Helper()
	b, err := bus.New(t.TempDir())
	require.NoError(t, err)
	e := NewEvaluator(Config{
		EvalInterval:   time.Millisecond,
		ReloadInterval: 0, // reload every cycle
	}, b, testLogger(t), nil, nil, nil)
	return e, b
}

func strategyFor(buy, sell, stop float64) model.StockStrategy {
	return model.StockStrategy{
		PurchaseQty: 10,
		SellingQty:  8,
		OrderType:   model.OrderTypeLimit,
		Triggers: model.Triggers{
			BuyTrigger:         buy,
			SellTrigger:        sell,
			StopLoss:           stop,
			PartialFillEnabled: true,
			MinFillQty:         4,
		},
	}
}

func TestEvaluateTickBuy(t *testing.T) {
	sig, ok := EvaluateTick("u1", "NABIL", strategyFor(95, 110, 90), 94, time.Now())
	require.True(t, ok)
	require.Equal(t, model.ActionBuy, sig.Action)
	require.Equal(t, int64(10), sig.Qty)
	require.Equal(t, int64(4), sig.MinQty)
	require.Equal(t, model.OrderTypeLimit, sig.OrderType)
	require.True(t, sig.PartialFill)
	require.Equal(t, "Buy trigger hit: 94 <= 95", sig.Reason)
}

func TestEvaluateTickBuyWinsOverStop(t *testing.T) {
	// Price is under both the buy trigger and the stop loss; buy is checked
	// first and wins.
	sig, ok := EvaluateTick("u1", "NABIL", strategyFor(95, 110, 90), 89, time.Now())
	require.True(t, ok)
	require.Equal(t, model.ActionBuy, sig.Action)
}

func TestEvaluateTickSellTarget(t *testing.T) {
	sig, ok := EvaluateTick("u1", "NABIL", strategyFor(0, 110, 90), 112, time.Now())
	require.True(t, ok)
	require.Equal(t, model.ActionSell, sig.Action)
	require.Equal(t, int64(8), sig.Qty)
	require.Equal(t, model.OrderTypeLimit, sig.OrderType)
	require.Equal(t, "Target reached: 112 >= 110", sig.Reason)
}

func TestEvaluateTickStopLoss(t *testing.T) {
	sig, ok := EvaluateTick("u1", "NABIL", strategyFor(0, 110, 90), 89, time.Now())
	require.True(t, ok)
	require.Equal(t, model.ActionSell, sig.Action)
	require.Equal(t, model.OrderTypeMarket, sig.OrderType)
	require.False(t, sig.PartialFill)
	require.Equal(t, int64(8), sig.MinQty, "stop must demand a full fill")
	require.Equal(t, "STOP LOSS TRIGGERED: 89 <= 90", sig.Reason)
}

func TestEvaluateTickNoTrigger(t *testing.T) {
	_, ok := EvaluateTick("u1", "NABIL", strategyFor(95, 110, 90), 100, time.Now())
	require.False(t, ok)
}

func TestEvaluateTickDisabledTriggersNeverFire(t *testing.T) {
	_, ok := EvaluateTick("u1", "NABIL", strategyFor(0, 0, 0), 0.5, time.Now())
	require.False(t, ok)
}

func TestEvaluateTickDefaultsOrderType(t *testing.T) {
	strat := strategyFor(95, 0, 0)
	strat.OrderType = ""
	sig, ok := EvaluateTick("u1", "NABIL", strat, 94, time.Now())
	require.True(t, ok)
	require.Equal(t, model.OrderTypeLimit, sig.OrderType)
}

func snapshotWith(prices map[string]float64) model.MarketSnapshot {
	stocks := make(map[string]model.StockTick, len(prices))
	for sym, p := range prices {
		stocks[sym] = model.StockTick{LTP: p}
	}
	return model.MarketSnapshot{
		Timestamp: time.Now().Format(model.TimeLayoutFull),
		Total:     len(stocks),
		Stocks:    stocks,
	}
}

func TestCyclePublishesBatchAndLegacy(t *testing.T) {
	e, b := newTestEvaluator(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(StrategiesKey, model.StrategySet{Users: map[string]model.UserStrategy{
		"u1": {Stocks: map[string]model.StockStrategy{"NABIL": strategyFor(95, 110, 90)}},
	}}))
	require.NoError(t, b.Publish(scanner.SnapshotKey, snapshotWith(map[string]float64{"NABIL": 94})))

	e.Cycle(ctx)

	var batch model.SignalBatch
	require.True(t, b.Read(SignalsKey, &batch))
	require.Len(t, batch, 1)
	require.Equal(t, model.ActionBuy, batch[0].Action)
	require.Equal(t, "u1", batch[0].UserID)

	var legacy []model.LegacySignal
	require.True(t, b.Read(LegacyKey, &legacy))
	require.Len(t, legacy, 1)
	require.Equal(t, "NABIL", legacy[0].Symbol)
}

func TestCycleRemovesStaleBatchWhenQuiet(t *testing.T) {
	e, b := newTestEvaluator(t)
	ctx := context.Background()

	// A leftover batch from a previous cycle must not outlive a quiet one.
	require.NoError(t, b.Publish(SignalsKey, model.SignalBatch{{Symbol: "OLD", Action: model.ActionBuy}}))
	require.NoError(t, b.Publish(LegacyKey, []model.LegacySignal{{Symbol: "OLD"}}))
	require.NoError(t, b.Publish(scanner.SnapshotKey, snapshotWith(map[string]float64{"NABIL": 100})))

	e.Cycle(ctx)

	require.False(t, b.Exists(SignalsKey))
	require.False(t, b.Exists(LegacyKey))
}

func TestCycleIdleWithoutSnapshot(t *testing.T) {
	e, b := newTestEvaluator(t)
	e.Cycle(context.Background())
	require.False(t, b.Exists(SignalsKey))
}

func TestReloadRemovesDepartedUser(t *testing.T) {
	e, b := newTestEvaluator(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(scanner.SnapshotKey, snapshotWith(map[string]float64{"NABIL": 94})))
	require.NoError(t, b.Publish(StrategiesKey, model.StrategySet{Users: map[string]model.UserStrategy{
		"u1": {Stocks: map[string]model.StockStrategy{"NABIL": strategyFor(95, 0, 0)}},
	}}))
	e.Cycle(ctx)
	require.True(t, b.Exists(SignalsKey))

	// User removed upstream: the wholesale reload drops them immediately.
	require.NoError(t, b.Publish(StrategiesKey, model.StrategySet{Users: map[string]model.UserStrategy{}}))
	e.Cycle(ctx)
	require.False(t, b.Exists(SignalsKey))
}

func TestReloadKeepsPreviousSetOnCorruptDocument(t *testing.T) {
	e, b := newTestEvaluator(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(scanner.SnapshotKey, snapshotWith(map[string]float64{"NABIL": 94})))
	require.NoError(t, b.Publish(StrategiesKey, model.StrategySet{Users: map[string]model.UserStrategy{
		"u1": {Stocks: map[string]model.StockStrategy{"NABIL": strategyFor(95, 0, 0)}},
	}}))
	e.Cycle(ctx)
	require.True(t, b.Exists(SignalsKey))

	// Corrupt replacement leaves the known-good copy in force.
	require.NoError(t, writeRaw(b, StrategiesKey, "{broken"))
	e.Cycle(ctx)
	require.True(t, b.Exists(SignalsKey))
}

func TestEvaluateDeterministicOrder(t *testing.T) {
	e, b := newTestEvaluator(t)
	require.NoError(t, b.Publish(StrategiesKey, model.StrategySet{Users: map[string]model.UserStrategy{
		"u2": {Stocks: map[string]model.StockStrategy{"B": strategyFor(95, 0, 0), "A": strategyFor(95, 0, 0)}},
		"u1": {Stocks: map[string]model.StockStrategy{"C": strategyFor(95, 0, 0)}},
	}}))
	e.reloadStrategies(time.Now())

	batch := e.Evaluate(snapshotWith(map[string]float64{"A": 90, "B": 90, "C": 90}), time.Now())
	require.Len(t, batch, 3)
	require.Equal(t, "u1", batch[0].UserID)
	require.Equal(t, "C", batch[0].Symbol)
	require.Equal(t, "A", batch[1].Symbol)
	require.Equal(t, "B", batch[2].Symbol)
}

func TestEvaluateSkipsSymbolsMissingFromSnapshot(t *testing.T) {
	e, b := newTestEvaluator(t)
	require.NoError(t, b.Publish(StrategiesKey, model.StrategySet{Users: map[string]model.UserStrategy{
		"u1": {Stocks: map[string]model.StockStrategy{"GONE": strategyFor(95, 0, 0)}},
	}}))
	e.reloadStrategies(time.Now())

	batch := e.Evaluate(snapshotWith(map[string]float64{"NABIL": 90}), time.Now())
	require.Empty(t, batch)
}

func writeRaw(b *bus.Bus, key, content string) error {
	return os.WriteFile(b.Path(key), []byte(content), 0o644)
}
