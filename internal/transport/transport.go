// Package transport provides the underlying channels a connection session can
// run over: a native WebSocket and an HTTP long-poll fallback. Each transport
// is exposed as a Dialer producing a Handle whose activity arrives as discrete
// events, keeping the session's state machine apart from the I/O glue.
package transport

import (
	"context"

	"collabsync/pkg/core"
)

// EventKind discriminates handle events.
type EventKind int

const (
	// EventFrame carries one inbound text frame.
	EventFrame EventKind = iota
	// EventClosed is the final event on a handle; Err is nil for a clean close.
	EventClosed
)

// Event is a discrete occurrence on a transport handle.
type Event struct {
	Kind  EventKind
	Frame []byte
	Err   error
}

// Handle is one live, handshaken transport connection. A handle is exclusively
// owned by its session: after EventClosed the events channel is closed and the
// handle is dead.
type Handle interface {
	// Type identifies the transport carrying this handle.
	Type() core.TransportType

	// Send transmits one text frame. It returns core.ErrNotConnected once the
	// handle has closed.
	Send(data []byte) error

	// Events delivers inbound frames followed by a final EventClosed.
	Events() <-chan Event

	// Close shuts the handle down gracefully: it sends the close handshake,
	// waits for acknowledgement up to the handle's grace period, then forces
	// closure. Always succeeds; callers may discard the error.
	Close() error
}

// Dialer opens handles for one transport type. Dial blocks until the
// transport handshake completes or ctx expires; the session bounds it with
// its handshake timeout.
type Dialer interface {
	Type() core.TransportType
	Dial(ctx context.Context) (Handle, error)
}
