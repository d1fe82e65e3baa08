package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType categorizes a connection error for retry handling.
type ErrorType int

// Error type constants map failures onto the session's recovery paths.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates a network connectivity failure. Recovered
	// automatically by the reconnection policy.
	ErrorTypeNetwork
	// ErrorTypeHandshakeTimeout indicates the handshake did not complete in time.
	ErrorTypeHandshakeTimeout
	// ErrorTypeAbnormalClose indicates the transport closed without a close frame.
	ErrorTypeAbnormalClose
	// ErrorTypeHeartbeat indicates a missed pong on a live connection.
	ErrorTypeHeartbeat
	// ErrorTypeRetriesExhausted indicates the reconnection policy gave up.
	ErrorTypeRetriesExhausted
	// ErrorTypeMalformedMessage indicates an inbound frame that could not be parsed.
	ErrorTypeMalformedMessage
	// ErrorTypeAuthentication indicates the server rejected the auth payload.
	ErrorTypeAuthentication
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"NETWORK",
		"HANDSHAKE_TIMEOUT",
		"ABNORMAL_CLOSE",
		"HEARTBEAT",
		"RETRIES_EXHAUSTED",
		"MALFORMED_MESSAGE",
		"AUTHENTICATION",
	}[t]
}

// Sentinel errors for common conditions.
var (
	// ErrSessionClosed is returned when operating on a torn-down session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrNotConnected is returned when a transport write requires a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrMalformedMessage is wrapped by message decode failures.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrHandshakeTimeout is raised when a handshake misses its deadline.
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrPongTimeout is raised when a heartbeat pong misses its deadline.
	ErrPongTimeout = errors.New("pong timeout")
	// ErrRetriesExhausted is raised when the reconnection policy returns Stop.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	// ErrPollCircuitOpen is returned while the long-poll circuit breaker is open.
	ErrPollCircuitOpen = errors.New("poll circuit breaker is open")
)

// ConnError is a structured connection-layer error carrying the transport it
// occurred on and when. Its message is suitable for the Metrics.LastError
// summary surfaced to UI consumers.
type ConnError struct {
	// Type categorizes the error for retry handling.
	Type ErrorType `json:"type"`
	// Transport is the transport in use when the error occurred.
	Transport TransportType `json:"transport"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *ConnError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Transport, e.Type, e.Message)
}

// NewConnError creates a ConnError stamped with the current time.
func NewConnError(errType ErrorType, transport TransportType, message string) *ConnError {
	return &ConnError{
		Type:      errType,
		Transport: transport,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsTransient reports whether the error is recovered automatically by the
// reconnection policy rather than surfaced as terminal.
func IsTransient(err error) bool {
	var ce *ConnError
	if errors.As(err, &ce) {
		switch ce.Type {
		case ErrorTypeNetwork, ErrorTypeHandshakeTimeout, ErrorTypeAbnormalClose, ErrorTypeHeartbeat:
			return true
		}
	}
	return false
}

// IsHandshakeFailure reports whether the error counts as a failed connection
// attempt for transport probing purposes.
func IsHandshakeFailure(err error) bool {
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce.Type == ErrorTypeHandshakeTimeout || ce.Type == ErrorTypeAbnormalClose
	}
	return errors.Is(err, ErrHandshakeTimeout)
}
