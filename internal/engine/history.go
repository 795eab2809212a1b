package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tradepipe/internal/model"
	"tradepipe/pkg/clickhouse"
)

// HistoryStore records every emitted signal for later review. Implementations
// must be best-effort from the evaluator's point of view; a failed insert
// never blocks or retracts a published batch.
type HistoryStore interface {
	InsertSignal(ctx context.Context, sig model.Signal) error
	Close() error
}

// AuditLog is the flat CSV trail of emitted signals, one append per signal.
type AuditLog struct {
	file *os.File
	w    *csv.Writer
}

// NewAuditLog opens (or creates) the audit CSV, writing the header only when
// the file is new.
func NewAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	w := csv.NewWriter(f)
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		_ = w.Write([]string{"Time", "User_ID", "Symbol", "Action", "Price", "Qty", "Reason", "Order_Type"})
		w.Flush()
	}
	return &AuditLog{file: f, w: w}, nil
}

// Append writes one signal row and flushes it to disk.
func (a *AuditLog) Append(sig model.Signal) error {
	if err := a.w.Write([]string{
		time.Now().Format(model.TimeLayoutFull),
		sig.UserID,
		sig.Symbol,
		sig.Action,
		strconv.FormatFloat(sig.Price, 'f', 2, 64),
		strconv.FormatInt(sig.Qty, 10),
		sig.Reason,
		sig.OrderType,
	}); err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	a.w.Flush()
	return a.w.Error()
}

// Close flushes and closes the audit file.
func (a *AuditLog) Close() error {
	a.w.Flush()
	return a.file.Close()
}

// ClickHouseHistory persists signals into the signal_history table. New
// rows land with status PENDING; the execution side owns later transitions.
type ClickHouseHistory struct {
	client *clickhouse.Client
}

// SignalHistorySchema returns the idempotent DDL for the history table.
func SignalHistorySchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS signal_history (
			created_at  DateTime,
			user_id     String,
			symbol      String,
			action      LowCardinality(String),
			price       Float64,
			qty         Int64,
			min_qty     Int64,
			order_type  LowCardinality(String),
			reason      String,
			status      LowCardinality(String)
		) ENGINE = MergeTree()
		ORDER BY (user_id, symbol, created_at)`,
	}
}

// NewClickHouseHistory wires the history store and ensures its schema.
func NewClickHouseHistory(ctx context.Context, client *clickhouse.Client) (*ClickHouseHistory, error) {
	if err := client.InitSchema(ctx, SignalHistorySchema()); err != nil {
		return nil, fmt.Errorf("signal history: %w", err)
	}
	return &ClickHouseHistory{client: client}, nil
}

// InsertSignal appends one signal row with status PENDING.
func (h *ClickHouseHistory) InsertSignal(ctx context.Context, sig model.Signal) error {
	created, err := time.Parse(time.RFC3339, sig.CreatedAt)
	if err != nil {
		created = time.Now()
	}
	const q = `INSERT INTO signal_history
		(created_at, user_id, symbol, action, price, qty, min_qty, order_type, reason, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := h.client.DB().ExecContext(ctx, q,
		created, sig.UserID, sig.Symbol, sig.Action,
		sig.Price, sig.Qty, sig.MinQty, sig.OrderType, sig.Reason, "PENDING",
	); err != nil {
		return fmt.Errorf("signal history insert: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (h *ClickHouseHistory) Close() error {
	return h.client.Close()
}
