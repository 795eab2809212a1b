package session

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

// ErrNotAttached means an operation ran before Acquire, or after the page
// channel was torn down.
var ErrNotAttached = errors.New("session: not attached")

// fatalMarkers are substrings the debugger surfaces when the session or the
// page behind it is gone for good. A matching error means retrying the same
// call is pointless; the supervisor must re-acquire.
var fatalMarkers = []string{
	"invalid session",
	"tab crashed",
	"target crashed",
	"target closed",
	"no such target",
	"connection refused",
	"cannot find context",
}

// IsFatal classifies an operational error: fatal errors require a full
// re-acquire (attach + view), anything else is a transient single-read
// failure worth retrying next cycle.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotAttached) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
