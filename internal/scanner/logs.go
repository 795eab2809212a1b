package scanner

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tradepipe/internal/model"
)

// HourlyLogs is the scanner's durable CSV sink: one directory per
// wall-clock hour holding the throttled full-snapshot log and the immediate
// moves log. The previous hour's handles are closed before the new ones
// open.
type HourlyLogs struct {
	baseDir       string
	retentionDays int

	hour      string
	fullFile  *os.File
	movesFile *os.File
	fullW     *csv.Writer
	movesW    *csv.Writer
}

// NewHourlyLogs creates the sink rooted at baseDir and opens the current
// hour's files.
func NewHourlyLogs(baseDir string, retentionDays int) (*HourlyLogs, error) {
	h := &HourlyLogs{baseDir: baseDir, retentionDays: retentionDays}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	h.CleanupOld(time.Now())
	if err := h.Rotate(time.Now()); err != nil {
		return nil, err
	}
	return h, nil
}

// Rotate switches to now's hour bucket if the hour changed.
func (h *HourlyLogs) Rotate(now time.Time) error {
	hour := now.Format(model.HourBucketFmt)
	if hour == h.hour {
		return nil
	}
	h.Close()
	h.hour = hour
	h.CleanupOld(now)

	dir := filepath.Join(h.baseDir, "NEPSE_"+hour)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("log rotate: %w", err)
	}

	var err error
	h.fullFile, h.fullW, err = openCSV(filepath.Join(dir, "FULL_SNAPSHOT.csv"),
		[]string{"Time", "Symbol", "LTP", "Open", "High", "Low", "Close", "Vol", "%Chg"})
	if err != nil {
		return err
	}
	h.movesFile, h.movesW, err = openCSV(filepath.Join(dir, "MOVES.csv"),
		[]string{"Time", "Symbol", "LTP", "From", "Change", "Dir", "Vol", "%Chg"})
	if err != nil {
		return err
	}
	return nil
}

func openCSV(path string, header []string) (*os.File, *csv.Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		_ = w.Write(header)
		w.Flush()
	}
	return f, w, nil
}

// WriteFull appends one row of the full snapshot log.
func (h *HourlyLogs) WriteFull(now time.Time, row model.RawRow, tick model.StockTick) {
	if h.fullW == nil {
		return
	}
	_ = h.fullW.Write([]string{
		now.Format(model.TimeLayoutFull),
		row.Symbol,
		formatPrice(tick.LTP),
		formatPrice(row.Open),
		formatPrice(row.High),
		formatPrice(row.Low),
		formatPrice(tick.Close),
		strconv.FormatInt(tick.Volume, 10),
		fmt.Sprintf("%+.2f", tick.PctChange),
	})
}

// WriteMove appends one move to the moves log and flushes immediately.
func (h *HourlyLogs) WriteMove(mv model.MoveEvent) {
	if h.movesW == nil {
		return
	}
	_ = h.movesW.Write([]string{
		mv.Timestamp,
		mv.Symbol,
		formatPrice(mv.ToPrice),
		fmt.Sprintf("%.2f", mv.FromPrice),
		fmt.Sprintf("%+.2f", mv.Change),
		mv.Direction,
		strconv.FormatInt(mv.Volume, 10),
		fmt.Sprintf("%+.2f", mv.PctChange),
	})
	h.movesW.Flush()
}

// FlushFull flushes the buffered full-snapshot rows.
func (h *HourlyLogs) FlushFull() {
	if h.fullW != nil {
		h.fullW.Flush()
	}
}

// CleanupOld removes hour buckets older than the retention window.
func (h *HourlyLogs) CleanupOld(now time.Time) {
	cutoff := now.AddDate(0, 0, -h.retentionDays)
	entries, err := os.ReadDir(h.baseDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.RemoveAll(filepath.Join(h.baseDir, e.Name()))
		}
	}
}

// Close flushes and closes the current hour's files.
func (h *HourlyLogs) Close() {
	for _, w := range []*csv.Writer{h.fullW, h.movesW} {
		if w != nil {
			w.Flush()
		}
	}
	for _, f := range []*os.File{h.fullFile, h.movesFile} {
		if f != nil {
			_ = f.Close()
		}
	}
	h.fullW, h.movesW = nil, nil
	h.fullFile, h.movesFile = nil, nil
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
