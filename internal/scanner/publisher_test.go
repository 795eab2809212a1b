package scanner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradepipe/internal/model"
	"tradepipe/pkg/bus"
	"tradepipe/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

type fakeSource struct {
	rows       []model.RawRow
	refreshed  int
	reacquired int
}

func (f *fakeSource) GetRows(ctx context.Context) ([]model.RawRow, error) { return f.rows, nil }
func (f *fakeSource) Refresh(ctx context.Context) error                   { f.refreshed++; return nil }
func (f *fakeSource) Reacquire(ctx context.Context) error                 { f.reacquired++; return nil }

func newTestPublisher(t *testing.T, src RowSource) (*Publisher, *bus.Bus) {
	t.Helper()
	b, err := bus.New(t.TempDir())
	require.NoError(t, err)
	p := NewPublisher(Config{
		TargetInterval: 8500 * time.Millisecond,
		FullLogEvery:   58 * time.Second,
		MovesCapacity:  100,
	}, b, src, testLogger(t), nil, nil)
	return p, b
}

func TestApplyRowsFirstObservationUsesClose(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeSource{})
	now := time.Now()

	moved := p.ApplyRows([]model.RawRow{
		{Symbol: "NABIL", LTP: 100.00, Close: 99.50, Volume: 1200},
	}, now)

	require.Len(t, moved, 1)
	mv := moved[0]
	require.Equal(t, model.DirectionUp, mv.Direction)
	require.Equal(t, 99.50, mv.FromPrice)
	require.Equal(t, 100.00, mv.ToPrice)
	require.Equal(t, 0.50, mv.Change)
}

func TestApplyRowsUsesPreviousLTPAsReference(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeSource{})
	now := time.Now()

	p.ApplyRows([]model.RawRow{{Symbol: "NABIL", LTP: 100.00, Close: 99.50}}, now)
	moved := p.ApplyRows([]model.RawRow{{Symbol: "NABIL", LTP: 100.02, Close: 99.50}}, now)

	require.Len(t, moved, 1)
	require.Equal(t, 100.00, moved[0].FromPrice)
	require.Equal(t, 0.02, moved[0].Change)
	require.Equal(t, model.DirectionUp, moved[0].Direction)
}

func TestApplyRowsSubThresholdIsNoMove(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeSource{})
	now := time.Now()

	p.ApplyRows([]model.RawRow{{Symbol: "NABIL", LTP: 100.00, Close: 99.50}}, now)
	moved := p.ApplyRows([]model.RawRow{{Symbol: "NABIL", LTP: 100.004, Close: 99.50}}, now)

	require.Empty(t, moved)
	// The tick itself is still updated.
	snap := p.Snapshot(now)
	require.Equal(t, 100.00, snap.Stocks["NABIL"].LTP)
}

func TestApplyRowsDownMove(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeSource{})
	now := time.Now()

	p.ApplyRows([]model.RawRow{{Symbol: "NICA", LTP: 500.00, Close: 500.00}}, now)
	moved := p.ApplyRows([]model.RawRow{{Symbol: "NICA", LTP: 499.10, Close: 500.00}}, now)

	require.Len(t, moved, 1)
	require.Equal(t, model.DirectionDown, moved[0].Direction)
	require.Equal(t, -0.90, moved[0].Change)
}

func TestApplyRowsSkipsJunkRows(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeSource{})
	now := time.Now()

	moved := p.ApplyRows([]model.RawRow{
		{Symbol: "", LTP: 100},
		{Symbol: "HALTED", LTP: 0, Close: 50},
		{Symbol: "NEG", LTP: -1, Close: 50},
	}, now)

	require.Empty(t, moved)
	require.Empty(t, p.Snapshot(now).Stocks)
}

func TestMovesWindowBounded(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeSource{})
	p.cfg.MovesCapacity = 100
	now := time.Now()

	price := 100.00
	p.ApplyRows([]model.RawRow{{Symbol: "NABIL", LTP: price, Close: price}}, now)
	for i := 0; i < 150; i++ {
		price += 0.05
		p.ApplyRows([]model.RawRow{{Symbol: "NABIL", LTP: price, Close: price}}, now)
	}

	moves := p.Moves()
	require.Len(t, moves, 100)
	// Oldest entries were evicted; the window ends at the latest price.
	require.Equal(t, round2(price), moves[len(moves)-1].ToPrice)
}

func TestCyclePublishesSnapshotUnconditionally(t *testing.T) {
	src := &fakeSource{rows: []model.RawRow{{Symbol: "NABIL", LTP: 100.00, Close: 100.00}}}
	p, b := newTestPublisher(t, src)
	ctx := context.Background()

	require.NoError(t, p.Cycle(ctx))
	require.Equal(t, 1, src.refreshed)

	var snap model.MarketSnapshot
	require.True(t, b.Read(SnapshotKey, &snap))
	require.Equal(t, 1, snap.Total)

	// No move fired, so no feed document.
	require.False(t, b.Exists(MovesKey))

	// Quiet second cycle still replaces the snapshot.
	require.NoError(t, p.Cycle(ctx))
	require.True(t, b.Read(SnapshotKey, &snap))
	require.Equal(t, 1, snap.Total)
}

func TestCyclePublishesMovesFeedOnMove(t *testing.T) {
	src := &fakeSource{rows: []model.RawRow{{Symbol: "NABIL", LTP: 100.00, Close: 99.00}}}
	p, b := newTestPublisher(t, src)
	ctx := context.Background()

	require.NoError(t, p.Cycle(ctx))

	var feed model.MovesFeed
	require.True(t, b.Read(MovesKey, &feed))
	require.Equal(t, 1, feed.Count)
	require.Equal(t, "NABIL", feed.Moves[0].Symbol)
}

func TestRound2(t *testing.T) {
	cases := map[float64]float64{
		100.004: 100.00,
		100.006: 100.01,
		99.999:  100.00,
		-0.006:  -0.01,
	}
	for in, want := range cases {
		if got := round2(in); got != want {
			t.Fatalf("round2(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeSource{})
	now := time.Now()
	p.ApplyRows([]model.RawRow{{Symbol: "NABIL", LTP: 100.00, Close: 100.00}}, now)

	snap := p.Snapshot(now)
	snap.Stocks["NABIL"] = model.StockTick{LTP: 1}
	require.Equal(t, 100.00, p.Snapshot(now).Stocks["NABIL"].LTP)
}

func TestHeartbeatSymbolChurn(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeSource{})
	now := time.Now()
	for i := 0; i < 5; i++ {
		p.ApplyRows([]model.RawRow{{Symbol: fmt.Sprintf("S%d", i), LTP: 10, Close: 10}}, now)
	}
	require.Len(t, p.Snapshot(now).Stocks, 5)
}
