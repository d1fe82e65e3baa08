// Package ratelimit throttles outbound messages so a queue flush after a
// reconnect cannot flood a recovering server.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle applies a global token bucket to outbound sends, with optional
// tighter buckets per message type (cursor updates are the usual offender).
type Throttle struct {
	global *rate.Limiter

	mu      sync.RWMutex
	byType  map[string]*rate.Limiter
	allowed atomic.Int64
	denied  atomic.Int64
}

// New creates a throttle permitting the given number of messages per period.
func New(messages int, period time.Duration) *Throttle {
	rps := float64(messages) / period.Seconds()
	return &Throttle{
		global: rate.NewLimiter(rate.Limit(rps), messages),
		byType: make(map[string]*rate.Limiter),
	}
}

// SetTypeLimit installs a tighter bucket for one message type. Messages of
// that type must pass both the type bucket and the global bucket.
func (t *Throttle) SetTypeLimit(msgType string, messages int, period time.Duration) {
	rps := float64(messages) / period.Seconds()
	t.mu.Lock()
	t.byType[msgType] = rate.NewLimiter(rate.Limit(rps), messages)
	t.mu.Unlock()
}

// Allow reports whether a message of the given type may be sent now.
func (t *Throttle) Allow(msgType string) bool {
	t.mu.RLock()
	typed := t.byType[msgType]
	t.mu.RUnlock()

	if typed != nil && !typed.Allow() {
		t.denied.Add(1)
		return false
	}
	if !t.global.Allow() {
		t.denied.Add(1)
		return false
	}
	t.allowed.Add(1)
	return true
}

// Wait blocks until the global bucket admits a message or the context is
// cancelled. Used when flushing the queued backlog after a reconnect.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.global.Wait(ctx); err != nil {
		t.denied.Add(1)
		return err
	}
	t.allowed.Add(1)
	return nil
}

// Counters returns the allowed and denied totals since creation.
func (t *Throttle) Counters() (allowed, denied int64) {
	return t.allowed.Load(), t.denied.Load()
}
