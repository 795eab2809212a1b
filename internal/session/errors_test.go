package session

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/gorilla/websocket"
)

func TestIsFatalNil(t *testing.T) {
	if IsFatal(nil) {
		t.Fatalf("nil is never fatal")
	}
}

func TestIsFatalMarkers(t *testing.T) {
	fatal := []error{
		errors.New("invalid session id"),
		errors.New("chrome error: tab crashed"),
		errors.New("Target Closed"),
		errors.New("dial tcp 127.0.0.1:9228: connection refused"),
		fmt.Errorf("get rows: %w", errors.New("Cannot find context with specified id")),
		ErrNotAttached,
		fmt.Errorf("refresh: %w", ErrNotAttached),
		&websocket.CloseError{Code: websocket.CloseAbnormalClosure},
		&net.OpError{Op: "read", Err: errors.New("reset")},
		net.ErrClosed,
	}
	for _, err := range fatal {
		if !IsFatal(err) {
			t.Fatalf("expected fatal: %v", err)
		}
	}
}

func TestIsFatalTransient(t *testing.T) {
	transient := []error{
		errors.New("evaluate: execution timed out"),
		errors.New("stale element reference"),
		fmt.Errorf("get rows: %w", errors.New("unexpected token in result")),
	}
	for _, err := range transient {
		if IsFatal(err) {
			t.Fatalf("expected transient: %v", err)
		}
	}
}
