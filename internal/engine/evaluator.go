// Package engine implements the signal evaluator: it polls the market
// snapshot, reloads per-user strategy configuration on its own timer, and
// derives BUY/SELL/STOP signals from trigger rules.
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"tradepipe/internal/model"
	"tradepipe/internal/scanner"
	"tradepipe/pkg/bus"
	"tradepipe/pkg/logger"
	"tradepipe/pkg/metrics"
)

// Bus keys the evaluator touches.
const (
	StrategiesKey = "user_strategies.json"
	SignalsKey    = "signals.json"
	LegacyKey     = "signals_legacy.json"
	ShutdownKey   = "shutdown_engine.flag"
)

const (
	idleLogEvery = 15 * time.Second
	beatLogEvery = 12 * time.Second
)

// Config holds the evaluator's cadences.
type Config struct {
	EvalInterval   time.Duration
	ReloadInterval time.Duration
}

// Evaluator owns the signal batch document. Strategy state is confined to
// its single loop.
type Evaluator struct {
	cfg     Config
	bus     *bus.Bus
	log     *logger.Logger
	rec     *metrics.Recorder
	audit   *AuditLog
	history HistoryStore

	strategies model.StrategySet
	lastReload time.Time
	lastIdle   time.Time
	lastBeat   time.Time
}

// NewEvaluator wires the evaluator. rec, audit and history may be nil.
func NewEvaluator(cfg Config, b *bus.Bus, log *logger.Logger, rec *metrics.Recorder, audit *AuditLog, history HistoryStore) *Evaluator {
	return &Evaluator{
		cfg:      cfg,
		bus:      b,
		log:      log,
		rec:      rec,
		audit:    audit,
		history:  history,
		lastBeat: time.Now(),
	}
}

// Run drives the evaluation loop until ctx is canceled or the shutdown
// marker appears. Iteration errors degrade to log-and-continue.
func (e *Evaluator) Run(ctx context.Context) error {
	e.log.Info("signal engine online")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.bus.Exists(ShutdownKey) {
			e.log.Info("shutdown marker detected, exiting")
			return nil
		}

		start := time.Now()
		e.Cycle(ctx)
		if e.rec != nil {
			e.rec.RecordCycle("engine", time.Since(start).Seconds())
		}
		sleep(ctx, e.cfg.EvalInterval)
	}
}

// Cycle runs one evaluation pass: reload strategies if due, read the
// snapshot, evaluate every configured (user, symbol) pair, and publish or
// clear the batch.
func (e *Evaluator) Cycle(ctx context.Context) {
	now := time.Now()

	if now.Sub(e.lastReload) >= e.cfg.ReloadInterval {
		e.reloadStrategies(now)
	}

	var snap model.MarketSnapshot
	e.bus.Read(scanner.SnapshotKey, &snap)
	if len(snap.Stocks) == 0 {
		if now.Sub(e.lastIdle) > idleLogEvery {
			e.log.Info("waiting for market data")
			e.lastIdle = now
		}
		return
	}

	batch := e.Evaluate(snap, now)

	if len(batch) > 0 {
		e.publishBatch(ctx, batch)
	} else {
		// Absence of the document is the canonical nothing-to-do state; a
		// stale batch left behind would be re-processed.
		if err := e.bus.Remove(SignalsKey); err != nil {
			e.log.Warn("signal cleanup failed", logger.Error(err))
		}
		if err := e.bus.Remove(LegacyKey); err != nil {
			e.log.Warn("legacy cleanup failed", logger.Error(err))
		}
	}

	if now.Sub(e.lastBeat) > beatLogEvery {
		e.log.Info("engine alive",
			logger.Int("stocks", len(snap.Stocks)),
			logger.Int("users", len(e.strategies.Users)))
		e.lastBeat = now
	}
}

// reloadStrategies replaces the in-memory strategy set wholesale. A missing
// document means nothing is configured; a present-but-unparseable document
// leaves the previous known-good copy in force.
func (e *Evaluator) reloadStrategies(now time.Time) {
	e.lastReload = now

	if !e.bus.Exists(StrategiesKey) {
		e.strategies = model.StrategySet{}
		return
	}

	var set model.StrategySet
	if !e.bus.Read(StrategiesKey, &set) {
		e.log.Warn("strategy reload failed, keeping previous set")
		if e.rec != nil {
			e.rec.RecordError("strategy_reload")
		}
		return
	}
	e.strategies = set
	e.log.Info("strategies reloaded",
		logger.Int("users", len(set.Users)),
		logger.Int("stocks", set.StockCount()))
}

// Evaluate applies the trigger rules to every (user, symbol) pair present
// in both the strategy set and the snapshot. Iteration is sorted so the
// batch order is deterministic.
func (e *Evaluator) Evaluate(snap model.MarketSnapshot, now time.Time) model.SignalBatch {
	var batch model.SignalBatch

	userIDs := make([]string, 0, len(e.strategies.Users))
	for id := range e.strategies.Users {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	for _, userID := range userIDs {
		user := e.strategies.Users[userID]
		symbols := make([]string, 0, len(user.Stocks))
		for sym := range user.Stocks {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)

		for _, sym := range symbols {
			tick, ok := snap.Stocks[sym]
			if !ok || tick.LTP <= 0 {
				continue
			}
			sig, fired := EvaluateTick(userID, sym, user.Stocks[sym], tick.LTP, now)
			if fired {
				batch = append(batch, sig)
			}
		}
	}
	return batch
}

// EvaluateTick applies the trigger rules for one (user, symbol) pair in
// fixed priority order, first match wins:
//
//  1. BUY when the price is at or under the buy trigger.
//  2. SELL when the price is at or over the sell target.
//  3. STOP: sell at market when the price is at or under the stop loss;
//     a stop must never partially fill, whatever the configuration says.
func EvaluateTick(userID, symbol string, strat model.StockStrategy, price float64, now time.Time) (model.Signal, bool) {
	t := strat.Triggers
	orderType := strat.OrderType
	if orderType == "" {
		orderType = model.OrderTypeLimit
	}

	base := model.Signal{
		UserID:    userID,
		Symbol:    symbol,
		Price:     round2(price),
		OrderType: orderType,
		CreatedAt: now.Format(time.RFC3339),
	}

	switch {
	case t.BuyTrigger > 0 && price <= t.BuyTrigger:
		base.Action = model.ActionBuy
		base.Qty = strat.PurchaseQty
		base.MinQty = strat.MinQty(strat.PurchaseQty)
		base.PartialFill = t.PartialFillEnabled
		base.Reason = fmt.Sprintf("Buy trigger hit: %g <= %g", price, t.BuyTrigger)
		return base, true

	case t.SellTrigger > 0 && price >= t.SellTrigger:
		base.Action = model.ActionSell
		base.Qty = strat.SellingQty
		base.MinQty = strat.MinQty(strat.SellingQty)
		base.PartialFill = t.PartialFillEnabled
		base.Reason = fmt.Sprintf("Target reached: %g >= %g", price, t.SellTrigger)
		return base, true

	case t.StopLoss > 0 && price <= t.StopLoss:
		base.Action = model.ActionSell
		base.Qty = strat.SellingQty
		base.MinQty = strat.SellingQty
		base.OrderType = model.OrderTypeMarket
		base.PartialFill = false
		base.Reason = fmt.Sprintf("STOP LOSS TRIGGERED: %g <= %g", price, t.StopLoss)
		return base, true
	}

	return model.Signal{}, false
}

// publishBatch replaces the batch document (and its legacy shape) and then
// records every signal in the audit sinks. Audit failures never block the
// publish; the batch is already on the bus when they run.
func (e *Evaluator) publishBatch(ctx context.Context, batch model.SignalBatch) {
	for _, sig := range batch {
		e.log.Info("signal",
			logger.String("action", sig.Action),
			logger.String("user", shortID(sig.UserID)),
			logger.String("symbol", sig.Symbol),
			logger.Float64("price", sig.Price),
			logger.Int64("qty", sig.Qty),
			logger.String("reason", sig.Reason))
		if e.rec != nil {
			e.rec.RecordSignal(sig.Action)
		}
	}

	if err := e.bus.Publish(SignalsKey, batch); err != nil {
		e.log.Error("signal publish failed", logger.Error(err))
		return
	}
	legacy := make([]model.LegacySignal, 0, len(batch))
	for _, sig := range batch {
		legacy = append(legacy, sig.Legacy())
	}
	if err := e.bus.Publish(LegacyKey, legacy); err != nil {
		e.log.Warn("legacy publish failed", logger.Error(err))
	}
	e.log.Info("signals written", logger.Int("count", len(batch)))

	for _, sig := range batch {
		if e.audit != nil {
			if err := e.audit.Append(sig); err != nil {
				e.log.Warn("audit log failed", logger.Error(err))
			}
		}
		if e.history != nil {
			if err := e.history.InsertSignal(ctx, sig); err != nil {
				e.log.Warn("history insert failed", logger.Error(err))
				if e.rec != nil {
					e.rec.RecordError("history")
				}
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
