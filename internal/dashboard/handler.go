// Package dashboard exposes a read-only HTTP view over the bus: the latest
// snapshot, the moves feed, the pending signal batch, and executor liveness.
// It never writes to the bus.
package dashboard

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"tradepipe/internal/engine"
	"tradepipe/internal/executor"
	"tradepipe/internal/model"
	"tradepipe/internal/scanner"
	"tradepipe/pkg/bus"
	apphttp "tradepipe/pkg/http"
)

// staleAfter is how old a heartbeat may be before the executor is reported
// down.
const staleAfter = 30 * time.Second

// Handler serves the pipeline's state over HTTP.
type Handler struct {
	bus *bus.Bus
}

// NewHandler creates the dashboard handler.
func NewHandler(b *bus.Bus) *Handler {
	return &Handler{bus: b}
}

// RegisterRoutes registers the dashboard's routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	api := e.Group("/api")
	api.GET("/market", h.Market)
	api.GET("/moves", h.Moves)
	api.GET("/signals", h.Signals)
	api.GET("/heartbeats", h.Heartbeats)
}

// Health reports liveness.
func (h *Handler) Health(c echo.Context) error {
	return apphttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// Market returns the latest published snapshot.
func (h *Handler) Market(c echo.Context) error {
	var snap model.MarketSnapshot
	if !h.bus.Read(scanner.SnapshotKey, &snap) {
		return apphttp.AppErrorResponse(c, apphttp.NotFoundError("no snapshot published yet"))
	}
	return apphttp.SuccessResponse(c, snap)
}

// Moves returns the bounded recent-moves feed.
func (h *Handler) Moves(c echo.Context) error {
	var feed model.MovesFeed
	if !h.bus.Read(scanner.MovesKey, &feed) {
		return apphttp.ListResponse(c, []model.MoveEvent{}, 0)
	}
	return apphttp.ListResponse(c, feed.Moves, int64(feed.Count))
}

// Signals returns the pending signal batch. Absence is the normal
// nothing-to-do state, reported as an empty list rather than an error.
func (h *Handler) Signals(c echo.Context) error {
	var batch model.SignalBatch
	if !h.bus.Read(engine.SignalsKey, &batch) {
		return apphttp.ListResponse(c, model.SignalBatch{}, 0)
	}
	return apphttp.ListResponse(c, batch, int64(len(batch)))
}

// HeartbeatStatus is one executor's liveness view.
type HeartbeatStatus struct {
	AccountID string `json:"account_id"`
	LastBeat  string `json:"last_beat"`
	AgeSecs   int64  `json:"age_secs"`
	Alive     bool   `json:"alive"`
}

// Heartbeats reports every executor that has ever beaten, with staleness.
func (h *Handler) Heartbeats(c echo.Context) error {
	dir := h.bus.Path(executor.HeartbeatDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return apphttp.ListResponse(c, []HeartbeatStatus{}, 0)
	}

	now := time.Now()
	out := make([]HeartbeatStatus, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		unix, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			continue
		}
		beat := time.Unix(unix, 0)
		age := now.Sub(beat)
		out = append(out, HeartbeatStatus{
			AccountID: strings.TrimSuffix(e.Name(), ".txt"),
			LastBeat:  beat.Format(time.RFC3339),
			AgeSecs:   int64(age.Seconds()),
			Alive:     age <= staleAfter,
		})
	}
	return apphttp.ListResponse(c, out, int64(len(out)))
}
