package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"tradepipe/internal/engine"
	"tradepipe/internal/executor"
	"tradepipe/internal/model"
	"tradepipe/internal/scanner"
	"tradepipe/pkg/bus"
)

func newTestServer(t *testing.T) (*echo.Echo, *bus.Bus) {
	t.Helper()
	b, err := bus.New(t.TempDir())
	require.NoError(t, err)
	e := echo.New()
	NewHandler(b).RegisterRoutes(e)
	return e, b
}

func doGET(t *testing.T, e *echo.Echo, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	e, _ := newTestServer(t)
	code, body := doGET(t, e, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(200), body["status"])
}

func TestMarketEndpoint(t *testing.T) {
	e, b := newTestServer(t)

	require.NoError(t, b.Publish(scanner.SnapshotKey, model.MarketSnapshot{
		Timestamp: "2026-09-01 11:00:00",
		Total:     1,
		Stocks:    map[string]model.StockTick{"NABIL": {LTP: 512.5}},
	}))

	_, body := doGET(t, e, "/api/market")
	data := body["data"].(map[string]interface{})
	require.Equal(t, float64(1), data["total"])

	stocks := data["stocks"].(map[string]interface{})
	require.Contains(t, stocks, "NABIL")
}

func TestMarketEndpointEmptyBus(t *testing.T) {
	e, _ := newTestServer(t)
	_, body := doGET(t, e, "/api/market")
	require.Equal(t, float64(http.StatusNotFound), body["status"])
}

func TestSignalsEndpointAbsentIsEmptyList(t *testing.T) {
	e, _ := newTestServer(t)
	code, body := doGET(t, e, "/api/signals")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	require.Equal(t, float64(0), data["total"])
}

func TestSignalsEndpointWithBatch(t *testing.T) {
	e, b := newTestServer(t)
	require.NoError(t, b.Publish(engine.SignalsKey, model.SignalBatch{
		{UserID: "u1", Symbol: "NABIL", Action: model.ActionBuy, Qty: 10},
	}))

	_, body := doGET(t, e, "/api/signals")
	data := body["data"].(map[string]interface{})
	require.Equal(t, float64(1), data["total"])
}

func TestHeartbeatsEndpoint(t *testing.T) {
	e, b := newTestServer(t)

	dir := b.Path(executor.HeartbeatDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	fresh := fmt.Sprintf("%d", time.Now().Unix())
	stale := fmt.Sprintf("%d", time.Now().Add(-5*time.Minute).Unix())
	require.NoError(t, os.WriteFile(dir+"/A.txt", []byte(fresh), 0o644))
	require.NoError(t, os.WriteFile(dir+"/B.txt", []byte(stale), 0o644))

	_, body := doGET(t, e, "/api/heartbeats")
	data := body["data"].(map[string]interface{})
	require.Equal(t, float64(2), data["total"])

	rows := data["rows"].([]interface{})
	byAccount := map[string]bool{}
	for _, r := range rows {
		row := r.(map[string]interface{})
		byAccount[row["account_id"].(string)] = row["alive"].(bool)
	}
	require.True(t, byAccount["A"])
	require.False(t, byAccount["B"])
}

func TestMovesEndpoint(t *testing.T) {
	e, b := newTestServer(t)
	require.NoError(t, b.Publish(scanner.MovesKey, model.MovesFeed{
		Timestamp: "2026-09-01 11:00:00",
		Moves:     []model.MoveEvent{{Symbol: "NABIL", Direction: model.DirectionUp}},
		Count:     1,
	}))

	_, body := doGET(t, e, "/api/moves")
	data := body["data"].(map[string]interface{})
	require.Equal(t, float64(1), data["total"])
}
