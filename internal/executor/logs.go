package executor

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tradepipe/internal/model"
)

// ExecutionLog is the per-account CSV trail of processed signals, one
// append per outcome.
type ExecutionLog struct {
	file *os.File
	w    *csv.Writer
}

// NewExecutionLog opens (or creates) the account's trail under dir.
func NewExecutionLog(dir, accountID string) (*ExecutionLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("execution log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("EXECUTIONS_%s.csv", accountID))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open execution log: %w", err)
	}
	w := csv.NewWriter(f)
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		_ = w.Write([]string{"Time", "Symbol", "Action", "Price", "Qty", "Order_Type", "Outcome", "Reason"})
		w.Flush()
	}
	return &ExecutionLog{file: f, w: w}, nil
}

// Append writes one outcome row and flushes it.
func (l *ExecutionLog) Append(rec model.ExecutionRecord) error {
	if err := l.w.Write([]string{
		time.Now().Format(model.TimeLayoutFull),
		rec.Symbol,
		rec.Action,
		strconv.FormatFloat(rec.Price, 'f', 2, 64),
		strconv.FormatInt(rec.Qty, 10),
		rec.OrderType,
		rec.Outcome,
		rec.Reason,
	}); err != nil {
		return fmt.Errorf("execution log append: %w", err)
	}
	l.w.Flush()
	return l.w.Error()
}

// Close flushes and closes the trail.
func (l *ExecutionLog) Close() error {
	l.w.Flush()
	return l.file.Close()
}
