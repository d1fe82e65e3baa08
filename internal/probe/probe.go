// Package probe decides which transport a connection attempt should use,
// based on the outcome history of prior attempts. The selector is purely
// advisory; the session decides whether to act on the suggestion.
package probe

import (
	"time"

	"collabsync/pkg/core"
)

// AttemptRecord describes one prior connection attempt.
type AttemptRecord struct {
	// Transport is the transport the attempt used.
	Transport core.TransportType
	// Success reports whether the attempt completed its handshake.
	Success bool
	// At is when the attempt concluded.
	At time.Time
}

// Selector holds the escalation policy parameters. The zero value is not
// usable; construct with NewSelector.
type Selector struct {
	// FailThreshold is the number of consecutive native-socket failures
	// within Window that triggers fallback escalation.
	FailThreshold int
	// Window is the rolling window over which failures count.
	Window time.Duration
	// FallbackAttempts is how many attempts stay on long-poll after
	// escalation before native-socket becomes eligible again.
	FallbackAttempts int
	// CoolDown is how long after the last native-socket failure the selector
	// waits before suggesting native-socket again.
	CoolDown time.Duration
}

// NewSelector creates a selector, applying defaults for zero-valued fields:
// 2 failures within 60s escalate, 3 fallback attempts, 2m cool-down.
func NewSelector(failThreshold, fallbackAttempts int, window, coolDown time.Duration) Selector {
	if failThreshold == 0 {
		failThreshold = 2
	}
	if fallbackAttempts == 0 {
		fallbackAttempts = 3
	}
	if window == 0 {
		window = 60 * time.Second
	}
	if coolDown == 0 {
		coolDown = 2 * time.Minute
	}
	return Selector{
		FailThreshold:    failThreshold,
		Window:           window,
		FallbackAttempts: fallbackAttempts,
		CoolDown:         coolDown,
	}
}

// Select returns the transport the next attempt should use, given the ordered
// attempt history (oldest first) and the current time. It has no side effects.
//
// Policy: start with native-socket. Once FailThreshold consecutive
// native-socket attempts have failed within Window, suggest long-poll for the
// next FallbackAttempts attempts, then suggest native-socket once more after
// CoolDown has elapsed since the last native-socket failure.
func (s Selector) Select(history []AttemptRecord, now time.Time) core.TransportType {
	var (
		streak         int
		lastNativeFail time.Time
		sinceNative    int
		seenNative     bool
	)

	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		if rec.Transport != core.TransportNativeSocket {
			if !seenNative {
				sinceNative++
			}
			continue
		}
		seenNative = true
		if rec.Success || now.Sub(rec.At) > s.Window {
			break
		}
		if streak == 0 {
			lastNativeFail = rec.At
		}
		streak++
	}

	if streak < s.FailThreshold {
		return core.TransportNativeSocket
	}
	if sinceNative < s.FallbackAttempts {
		return core.TransportLongPoll
	}
	if now.Sub(lastNativeFail) >= s.CoolDown {
		return core.TransportNativeSocket
	}
	return core.TransportLongPoll
}
