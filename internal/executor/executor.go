// Package executor implements the order executor: it watches the bus for a
// signal batch, submits each signal through the configured submitter, and
// archives per-signal outcomes. The batch document is consumed exactly once
// per appearance, whatever happens to the signals inside it.
package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"tradepipe/internal/engine"
	"tradepipe/internal/model"
	"tradepipe/pkg/bus"
	"tradepipe/pkg/logger"
	"tradepipe/pkg/metrics"
)

// Bus key layout for executor outcomes.
const (
	ExecutedDir    = "executed"
	FailedDir      = "failed"
	QuarantineDir  = "quarantine"
	HeartbeatDir   = "executor_heartbeat"
	archiveTimeFmt = "20060102_150405"
)

// Config holds the executor's identity and pacing.
type Config struct {
	AccountID         string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	RequiredFiles     []string
	QuarantineAfter   int
}

// Executor drives one account's order flow. One executor instance owns its
// account's heartbeat, shutdown flag, and outcome archives; multiple
// accounts run as separate processes sharing the bus.
type Executor struct {
	cfg Config
	bus *bus.Bus
	log *logger.Logger
	rec *metrics.Recorder
	sub Submitter

	trail      *ExecutionLog
	lastBeat   time.Time
	parseFails int
}

// New wires an executor for one account. rec may be nil.
func New(cfg Config, b *bus.Bus, log *logger.Logger, rec *metrics.Recorder, sub Submitter) *Executor {
	return &Executor{cfg: cfg, bus: b, log: log, rec: rec, sub: sub}
}

// SetTrail attaches the per-account CSV trail.
func (x *Executor) SetTrail(t *ExecutionLog) { x.trail = t }

// ShutdownKey is the per-account stop flag.
func (x *Executor) ShutdownKey() string {
	return fmt.Sprintf("shutdown_%s.flag", x.cfg.AccountID)
}

// HeartbeatKey is the per-account liveness file.
func (x *Executor) HeartbeatKey() string {
	return fmt.Sprintf("%s/%s.txt", HeartbeatDir, x.cfg.AccountID)
}

// VerifyEnvironment checks that every required file is present before the
// loop starts. A missing credential or configuration file is fatal; running
// an order executor against a half-provisioned account is worse than not
// running it.
func (x *Executor) VerifyEnvironment() error {
	for _, path := range x.cfg.RequiredFiles {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("required file %s: %w", path, err)
		}
	}
	return nil
}

// Run drives the executor loop until ctx is canceled or the account's
// shutdown flag appears. A stale flag left over from a previous run is
// cleared at startup so it cannot stop the fresh instance immediately.
func (x *Executor) Run(ctx context.Context) error {
	if err := x.VerifyEnvironment(); err != nil {
		return err
	}
	if x.bus.Exists(x.ShutdownKey()) {
		x.log.Warn("clearing stale shutdown flag", logger.String("key", x.ShutdownKey()))
		if err := x.bus.Remove(x.ShutdownKey()); err != nil {
			return err
		}
	}

	x.log.Info("executor online", logger.String("account", x.cfg.AccountID), logger.String("submitter", x.sub.Name()))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if x.bus.Exists(x.ShutdownKey()) {
			x.log.Info("shutdown flag detected, exiting")
			_ = x.bus.Remove(x.ShutdownKey())
			return nil
		}

		x.heartbeat(time.Now())

		if x.bus.Exists(engine.SignalsKey) {
			x.ProcessPending(ctx)
		}

		sleep(ctx, x.cfg.PollInterval)
	}
}

// heartbeat rewrites the liveness file when the interval elapsed. The file
// holds a plain unix timestamp so shell tooling can check staleness with
// arithmetic alone.
func (x *Executor) heartbeat(now time.Time) {
	if now.Sub(x.lastBeat) < x.cfg.HeartbeatInterval {
		return
	}
	x.lastBeat = now
	path := x.bus.Path(x.HeartbeatKey())
	if err := os.MkdirAll(x.bus.Path(HeartbeatDir), 0o755); err != nil {
		x.log.Warn("heartbeat dir failed", logger.Error(err))
		return
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", now.Unix())), 0o644); err != nil {
		x.log.Warn("heartbeat write failed", logger.Error(err))
	}
}

// ProcessPending consumes the signal batch currently on the bus. The batch
// document is removed unconditionally after processing: signals are
// submitted at most once, and a batch that fails to parse repeatedly is
// moved aside rather than left to wedge the loop forever.
func (x *Executor) ProcessPending(ctx context.Context) {
	var batch model.SignalBatch
	if !x.bus.Read(engine.SignalsKey, &batch) {
		// Present but unreadable. Give the writer a couple of cycles to
		// finish, then quarantine the document.
		x.parseFails++
		x.log.Warn("signal batch unreadable", logger.Int("attempt", x.parseFails))
		if x.parseFails >= x.cfg.QuarantineAfter {
			x.quarantine()
			x.parseFails = 0
		}
		return
	}
	x.parseFails = 0

	done, failed := x.ProcessBatch(ctx, batch)

	if err := x.bus.Remove(engine.SignalsKey); err != nil {
		x.log.Error("batch cleanup failed", logger.Error(err))
	}
	_ = x.bus.Remove(engine.LegacyKey)

	x.archive(done, failed)
}

// ProcessBatch submits every signal in the batch, isolating failures: one
// bad signal never blocks the rest. It returns the outcome-partitioned
// records.
func (x *Executor) ProcessBatch(ctx context.Context, batch model.SignalBatch) (done, failed []model.ExecutionRecord) {
	x.log.Info("processing batch", logger.Int("signals", len(batch)))
	for _, sig := range batch {
		if sig.CreatedAt == "" {
			sig.CreatedAt = time.Now().Format(time.RFC3339)
		}
		rec := model.ExecutionRecord{
			Signal:      sig,
			ProcessedAt: time.Now().Format(time.RFC3339),
		}
		if err := x.submitOne(ctx, sig); err != nil {
			rec.Outcome = model.OutcomeFailed
			failed = append(failed, rec)
			x.log.Error("order failed",
				logger.String("symbol", sig.Symbol),
				logger.String("action", sig.Action),
				logger.Error(err))
			if x.rec != nil {
				x.rec.RecordOrder(x.cfg.AccountID, "failed")
			}
			x.appendTrail(rec)
			continue
		}
		rec.Outcome = model.OutcomeSent
		done = append(done, rec)
		x.appendTrail(rec)
		x.log.Info("order sent",
			logger.String("symbol", sig.Symbol),
			logger.String("action", sig.Action),
			logger.Float64("price", sig.Price),
			logger.Int64("qty", sig.Qty),
			logger.String("order_type", sig.OrderType))
		if x.rec != nil {
			x.rec.RecordOrder(x.cfg.AccountID, "sent")
		}
	}
	return done, failed
}

// submitOne recovers a submitter panic into an error so a single malformed
// signal cannot take the whole loop down.
func (x *Executor) submitOne(ctx context.Context, sig model.Signal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("submit panic: %v", r)
		}
	}()
	if sig.Symbol == "" || sig.Action == "" {
		return fmt.Errorf("malformed signal: symbol=%q action=%q", sig.Symbol, sig.Action)
	}
	if sig.Qty <= 0 {
		return fmt.Errorf("non-positive qty %d for %s", sig.Qty, sig.Symbol)
	}
	return x.sub.Submit(ctx, sig)
}

// archive writes the outcome-partitioned records into timestamped documents
// that are never rewritten.
func (x *Executor) archive(done, failed []model.ExecutionRecord) {
	stamp := time.Now().Format(archiveTimeFmt)
	if len(done) > 0 {
		key := fmt.Sprintf("%s/done_%s_%s.json", ExecutedDir, x.cfg.AccountID, stamp)
		if err := x.bus.Publish(key, done); err != nil {
			x.log.Error("archive failed", logger.String("key", key), logger.Error(err))
		}
	}
	if len(failed) > 0 {
		key := fmt.Sprintf("%s/failed_%s_%s.json", FailedDir, x.cfg.AccountID, stamp)
		if err := x.bus.Publish(key, failed); err != nil {
			x.log.Error("archive failed", logger.String("key", key), logger.Error(err))
		}
	}
}

// quarantine moves the unparseable batch document aside for inspection.
func (x *Executor) quarantine() {
	stamp := time.Now().Format(archiveTimeFmt)
	key := fmt.Sprintf("%s/bad_%s_%s.json", QuarantineDir, x.cfg.AccountID, stamp)
	dst := x.bus.Path(key)
	if err := os.MkdirAll(x.bus.Path(QuarantineDir), 0o755); err != nil {
		x.log.Error("quarantine dir failed", logger.Error(err))
		return
	}
	if err := os.Rename(x.bus.Path(engine.SignalsKey), dst); err != nil {
		x.log.Error("quarantine failed", logger.Error(err))
		return
	}
	x.log.Warn("batch quarantined", logger.String("key", key))
	if x.rec != nil {
		x.rec.RecordError("quarantine")
	}
}

func (x *Executor) appendTrail(rec model.ExecutionRecord) {
	if x.trail == nil {
		return
	}
	if err := x.trail.Append(rec); err != nil {
		x.log.Warn("execution trail failed", logger.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
