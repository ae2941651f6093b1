// Package transport delivers ordered, reliable, arbitrarily-sized framed
// messages over a connection and reports connect/close/error events.
//
// Two implementations ship with the engine: a gorilla/websocket connection
// for remote peers, and an in-process pipe used for the upstream
// application connection when the app runs in the same process (and
// throughout the test suite).
package transport

import "errors"

// ErrClosed is returned by Send after the connection has closed.
var ErrClosed = errors.New("transport: connection closed")

// Handler receives connection events. HandleClose is invoked exactly once,
// regardless of how many times the connection is closed or from which side.
type Handler interface {
	// HandleMessage delivers one inbound frame, in arrival order.
	HandleMessage(data []byte)

	// HandleClose reports the connection's end. err is nil for a clean
	// local or remote close, non-nil for a transport failure.
	HandleClose(err error)
}

// Conn is one framed, ordered, reliable connection.
type Conn interface {
	// Send writes one frame. Safe for concurrent use.
	Send(data []byte) error

	// Start attaches the handler and begins delivering inbound frames.
	// Frames for one connection are delivered sequentially from a single
	// goroutine.
	Start(h Handler)

	// Close tears the connection down. Idempotent.
	Close() error
}
