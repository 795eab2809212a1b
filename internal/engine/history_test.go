package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tradepipe/internal/model"
)

func TestAuditLogAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "SIGNALS_HISTORY.csv")
	audit, err := NewAuditLog(path)
	require.NoError(t, err)

	require.NoError(t, audit.Append(model.Signal{
		UserID:    "u1",
		Symbol:    "NABIL",
		Action:    model.ActionBuy,
		Price:     94,
		Qty:       10,
		OrderType: model.OrderTypeLimit,
		Reason:    "Buy trigger hit: 94 <= 95",
	}))
	require.NoError(t, audit.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "Time,User_ID,Symbol,Action,Price,Qty,Reason,Order_Type", lines[0])
	require.Contains(t, lines[1], "u1,NABIL,BUY,94.00,10,Buy trigger hit: 94 <= 95,LIMIT")
}

func TestAuditLogNoHeaderOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SIGNALS_HISTORY.csv")

	audit, err := NewAuditLog(path)
	require.NoError(t, err)
	require.NoError(t, audit.Append(model.Signal{UserID: "u1", Symbol: "A", Action: model.ActionBuy}))
	require.NoError(t, audit.Close())

	audit, err = NewAuditLog(path)
	require.NoError(t, err)
	require.NoError(t, audit.Append(model.Signal{UserID: "u1", Symbol: "B", Action: model.ActionSell}))
	require.NoError(t, audit.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), "User_ID"))
	require.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)
}
