package core

import "time"

// Metrics captures the health counters of a connection session. Snapshots are
// value copies and safe to hold across broadcasts.
type Metrics struct {
	// ReconnectCount is a monotonic counter of transitions into reconnecting.
	// It is reset only when a fresh session is created.
	ReconnectCount int `json:"reconnect_count"`
	// LastConnectedAt is the time the session last completed a handshake,
	// or nil if it never connected.
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	// LastError is a human-readable summary of the most recent failure.
	LastError string `json:"last_error,omitempty"`
	// LatencyMs is a rolling estimate of round-trip latency from heartbeats.
	LatencyMs int64 `json:"latency_ms"`
}

// Equal reports whether two metrics snapshots carry the same values.
func (m Metrics) Equal(other Metrics) bool {
	if m.ReconnectCount != other.ReconnectCount ||
		m.LastError != other.LastError ||
		m.LatencyMs != other.LatencyMs {
		return false
	}
	switch {
	case m.LastConnectedAt == nil && other.LastConnectedAt == nil:
		return true
	case m.LastConnectedAt == nil || other.LastConnectedAt == nil:
		return false
	default:
		return m.LastConnectedAt.Equal(*other.LastConnectedAt)
	}
}
