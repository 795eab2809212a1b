// Package scanner implements the snapshot publisher: it pulls the quote
// table from the supervised session at a fixed cadence, derives move events
// against the previous observation, and publishes the snapshot and the
// bounded moves feed to the bus.
package scanner

import (
	"context"
	"math"
	"time"

	"tradepipe/internal/model"
	"tradepipe/internal/session"
	"tradepipe/pkg/bus"
	"tradepipe/pkg/logger"
	"tradepipe/pkg/metrics"
)

// Bus keys owned by the scanner.
const (
	SnapshotKey = "market_data.json"
	MovesKey    = "market_moves.json"
	ShutdownKey = "shutdown_scanner.flag"
)

const (
	floorSleep     = time.Second
	errorPause     = 3 * time.Second
	heartbeatEvery = 100 // cycles between liveness log lines
)

// RowSource is the capability surface the supervisor exposes to the
// publisher.
type RowSource interface {
	GetRows(ctx context.Context) ([]model.RawRow, error)
	Refresh(ctx context.Context) error
	Reacquire(ctx context.Context) error
}

// EventSink publishes derived events to a streaming topic. Satisfied by the
// Kafka producer; optional.
type EventSink interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// LiveMirror copies published documents to a remote store for consumers
// that cannot mount the bus directory. Optional.
type LiveMirror interface {
	MirrorSnapshot(ctx context.Context, snap model.MarketSnapshot) error
	MirrorMoves(ctx context.Context, feed model.MovesFeed) error
}

// Config holds the publisher's pacing and capacity knobs.
type Config struct {
	TargetInterval time.Duration
	SettleDelay    time.Duration
	FullLogEvery   time.Duration
	MovesCapacity  int
	MovesTopic     string
}

// Publisher owns the market snapshot and moves feed documents. All state is
// confined to its single loop; nothing here is safe for concurrent use.
type Publisher struct {
	cfg  Config
	bus  *bus.Bus
	src  RowSource
	log  *logger.Logger
	rec  *metrics.Recorder
	logs *HourlyLogs

	fanout EventSink
	mirror LiveMirror

	stocks      map[string]model.StockTick
	moves       []model.MoveEvent
	lastRefresh time.Time
	lastFullLog time.Time
	cycles      int
}

// NewPublisher wires the publisher to its bus, row source, and sinks.
// rec, logs, fanout and mirror may be nil.
func NewPublisher(cfg Config, b *bus.Bus, src RowSource, log *logger.Logger, rec *metrics.Recorder, logs *HourlyLogs) *Publisher {
	return &Publisher{
		cfg:    cfg,
		bus:    b,
		src:    src,
		log:    log,
		rec:    rec,
		logs:   logs,
		stocks: make(map[string]model.StockTick),
	}
}

// SetFanout attaches a streaming sink for move events.
func (p *Publisher) SetFanout(s EventSink) { p.fanout = s }

// SetMirror attaches a live mirror for published documents.
func (p *Publisher) SetMirror(m LiveMirror) { p.mirror = m }

// Run drives the scan loop until ctx is canceled or the shutdown marker
// appears. Errors never exit the loop: transient ones are logged and the
// cycle retried after a short pause, session-fatal ones trigger a full
// re-acquire first.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info("scanner online")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.bus.Exists(ShutdownKey) {
			p.log.Info("shutdown marker detected, exiting")
			return nil
		}

		start := time.Now()
		if err := p.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.rec != nil {
				p.rec.RecordError("scan_cycle")
			}
			if session.IsFatal(err) {
				p.log.Error("session lost, re-acquiring", logger.Error(err))
				if err := p.src.Reacquire(ctx); err != nil {
					return err
				}
			} else {
				p.log.Warn("recoverable scan error", logger.Error(err))
				sleep(ctx, errorPause)
			}
		}
		if p.rec != nil {
			p.rec.RecordCycle("scanner", time.Since(start).Seconds())
		}

		// Floor sleep keeps an error-shortened cycle from busy-spinning.
		if elapsed := time.Since(start); elapsed < floorSleep {
			sleep(ctx, floorSleep-elapsed)
		}
	}
}

// Cycle performs one scan: refresh if due, extract, derive moves, publish,
// and append to the durable logs.
func (p *Publisher) Cycle(ctx context.Context) error {
	now := time.Now()

	if p.logs != nil {
		if err := p.logs.Rotate(now); err != nil {
			p.log.Warn("log rotation failed", logger.Error(err))
		}
	}

	if now.Sub(p.lastRefresh) >= p.cfg.TargetInterval {
		if err := p.src.Refresh(ctx); err != nil {
			return err
		}
		p.lastRefresh = now
		sleep(ctx, p.cfg.SettleDelay)
	}

	rows, err := p.src.GetRows(ctx)
	if err != nil {
		return err
	}

	moved := p.ApplyRows(rows, now)

	if len(moved) > 0 {
		p.log.Info("market moving", logger.Int("scraped", len(rows)), logger.Int("moves", len(moved)))
		for _, mv := range moved {
			p.log.Info("move",
				logger.String("symbol", mv.Symbol),
				logger.String("dir", mv.Direction),
				logger.Float64("from", mv.FromPrice),
				logger.Float64("to", mv.ToPrice),
				logger.Float64("change", mv.Change),
				logger.Int64("vol", mv.Volume))
		}
		if err := p.bus.Publish(MovesKey, p.feed(now)); err != nil {
			p.log.Error("moves publish failed", logger.Error(err))
		}
		p.publishFanout(ctx, moved)
	} else {
		p.log.Debug("quiet market", logger.Int("scraped", len(rows)))
	}

	// The snapshot goes out every cycle even when unchanged so downstream
	// freshness tracking stays reliable.
	snap := p.Snapshot(now)
	if err := p.bus.Publish(SnapshotKey, snap); err != nil {
		return err
	}
	if p.rec != nil {
		p.rec.RecordSnapshot()
	}
	p.mirrorOut(ctx, snap, moved, now)

	if p.logs != nil && now.Sub(p.lastFullLog) > p.cfg.FullLogEvery {
		p.logs.FlushFull()
		p.lastFullLog = now
	}

	p.cycles++
	if p.cycles%heartbeatEvery == 0 {
		p.log.Info("scanner heartbeat", logger.Int("stocks", len(p.stocks)), logger.Int("cycles", p.cycles))
	}
	return nil
}

// ApplyRows folds one extraction into the in-memory symbol table and
// returns the cycle's move events. The reference price is the previous
// cycle's last-traded price when positive, otherwise the row's close; a
// move is any delta of at least 0.01 against that reference. All prices are
// rounded to 2 decimals before comparison and storage.
func (p *Publisher) ApplyRows(rows []model.RawRow, now time.Time) []model.MoveEvent {
	var moved []model.MoveEvent
	fullDue := p.logs != nil && now.Sub(p.lastFullLog) > p.cfg.FullLogEvery

	for _, row := range rows {
		if row.Symbol == "" || row.LTP <= 0 {
			continue
		}
		ltp := round2(row.LTP)
		closing := round2(row.Close)
		vol := int64(row.Volume)

		ref := closing
		if prev, ok := p.stocks[row.Symbol]; ok && prev.LTP > 0 {
			ref = prev.LTP
		}
		change := round2(ltp - ref)

		tick := model.StockTick{
			LTP:       ltp,
			Close:     closing,
			Volume:    vol,
			PctChange: row.Pct,
			Time:      now.Format(model.TimeLayoutShort),
		}

		if fullDue {
			p.logs.WriteFull(now, row, tick)
		}

		if math.Abs(change) >= model.MinMoveDelta {
			dir := model.DirectionUp
			if change < 0 {
				dir = model.DirectionDown
			}
			mv := model.MoveEvent{
				Timestamp: now.Format(model.TimeLayoutFull),
				Time:      now.Format(model.TimeLayoutShort),
				Symbol:    row.Symbol,
				Direction: dir,
				FromPrice: round2(ref),
				ToPrice:   ltp,
				Change:    change,
				Volume:    vol,
				PctChange: round2(row.Pct),
			}
			moved = append(moved, mv)
			p.appendMove(mv)
			if p.logs != nil {
				p.logs.WriteMove(mv)
			}
			if p.rec != nil {
				p.rec.RecordMove(dir)
			}
		}

		p.stocks[row.Symbol] = tick
		if p.rec != nil {
			p.rec.RecordLastPrice(row.Symbol, ltp)
		}
	}
	return moved
}

// appendMove keeps the recent-moves window bounded, evicting the oldest.
func (p *Publisher) appendMove(mv model.MoveEvent) {
	p.moves = append(p.moves, mv)
	if over := len(p.moves) - p.cfg.MovesCapacity; over > 0 {
		p.moves = append(p.moves[:0], p.moves[over:]...)
	}
}

// Snapshot materializes the full-table document for publication.
func (p *Publisher) Snapshot(now time.Time) model.MarketSnapshot {
	stocks := make(map[string]model.StockTick, len(p.stocks))
	for sym, tick := range p.stocks {
		stocks[sym] = tick
	}
	return model.MarketSnapshot{
		Timestamp: now.Format(model.TimeLayoutFull),
		Total:     len(stocks),
		Stocks:    stocks,
	}
}

// Moves returns the current bounded moves window, oldest first.
func (p *Publisher) Moves() []model.MoveEvent {
	out := make([]model.MoveEvent, len(p.moves))
	copy(out, p.moves)
	return out
}

func (p *Publisher) feed(now time.Time) model.MovesFeed {
	return model.MovesFeed{
		Timestamp: now.Format(model.TimeLayoutFull),
		Moves:     p.Moves(),
		Count:     len(p.moves),
	}
}

func (p *Publisher) publishFanout(ctx context.Context, moved []model.MoveEvent) {
	if p.fanout == nil {
		return
	}
	for _, mv := range moved {
		if err := p.fanout.Publish(ctx, p.cfg.MovesTopic, []byte(mv.Symbol), mv); err != nil {
			p.log.Warn("move fanout failed", logger.String("symbol", mv.Symbol), logger.Error(err))
			if p.rec != nil {
				p.rec.RecordError("fanout")
			}
			return
		}
	}
}

func (p *Publisher) mirrorOut(ctx context.Context, snap model.MarketSnapshot, moved []model.MoveEvent, now time.Time) {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.MirrorSnapshot(ctx, snap); err != nil {
		p.log.Warn("snapshot mirror failed", logger.Error(err))
	}
	if len(moved) > 0 {
		if err := p.mirror.MirrorMoves(ctx, p.feed(now)); err != nil {
			p.log.Warn("moves mirror failed", logger.Error(err))
		}
	}
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
