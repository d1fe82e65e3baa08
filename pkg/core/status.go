package core

import "sync/atomic"

// Status represents the lifecycle state of a connection session.
type Status int32

// Connection status values for session lifecycle management.
const (
	// StatusDisconnected indicates no connection exists and none is being attempted.
	StatusDisconnected Status = iota
	// StatusConnecting indicates a connection attempt is in progress.
	StatusConnecting
	// StatusConnected indicates a live, handshaken connection exists.
	StatusConnected
	// StatusReconnecting indicates the session is waiting to retry after a failure.
	StatusReconnecting
	// StatusErrored indicates automatic retries are exhausted; only a manual
	// reconnect resumes the session.
	StatusErrored
)

// String returns the string representation of the status.
func (s Status) String() string {
	return [...]string{
		"disconnected",
		"connecting",
		"connected",
		"reconnecting",
		"errored",
	}[s]
}

// IsTerminal reports whether the status permits no automatic transition.
// Errored sessions still accept a manual reconnect.
func (s Status) IsTerminal() bool {
	return s == StatusDisconnected || s == StatusErrored
}

// StatusValue provides thread-safe atomic access to a Status value. The
// session loop owns all writes; other goroutines may only read.
type StatusValue struct {
	v atomic.Int32
}

// Load returns the current status.
func (s *StatusValue) Load() Status {
	return Status(s.v.Load())
}

// Store sets the status to the given value.
func (s *StatusValue) Store(status Status) {
	s.v.Store(int32(status))
}

// CompareAndSwap atomically compares the current status with old and swaps to
// new if equal. It returns true if the swap was performed.
func (s *StatusValue) CompareAndSwap(old, new Status) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}
