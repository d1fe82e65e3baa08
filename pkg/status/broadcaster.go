// Package status implements the process-wide connection health broadcaster.
// Any number of consumers can subscribe to status, transport, and metrics
// changes without owning the session. The broadcaster is an explicitly
// constructed object with a single creation point and teardown hook, passed
// to consumers rather than held in ambient package state.
package status

import (
	"sync"

	"github.com/rs/zerolog"

	"collabsync/pkg/core"
)

// Snapshot is the immutable view of connection health handed to subscribers.
// Consumers treat it as read-only; it is a value copy.
type Snapshot struct {
	Status    core.Status        `json:"status"`
	Transport core.TransportType `json:"transport"`
	Metrics   core.Metrics       `json:"metrics"`
}

// Equal reports whether two snapshots are indistinguishable to a subscriber.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.Status == other.Status &&
		s.Transport == other.Transport &&
		s.Metrics.Equal(other.Metrics)
}

// Subscriber is a callback invoked synchronously on every published change.
type Subscriber func(Snapshot)

type subscriberEntry struct {
	id int
	fn Subscriber
}

// Broadcaster fans connection health out to subscribers. Publishes are
// strictly ordered and deduplicated: one broadcast cycle per distinct
// session event, never two for the same transition.
type Broadcaster struct {
	mu        sync.Mutex
	subs      []subscriberEntry
	nextID    int
	current   Snapshot
	closed    bool
	reconnect func()
	logger    zerolog.Logger
}

// NewBroadcaster creates a broadcaster with the initial (disconnected)
// snapshot.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{logger: logger}
}

// Subscribe registers a callback invoked synchronously whenever status,
// transport, or metrics change. The returned unsubscribe function is
// idempotent and safe to call from within a broadcast: the current cycle's
// remaining callbacks are unaffected.
func (b *Broadcaster) Subscribe(fn Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.subs {
			if entry.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns the current snapshot. Safe to call at any time.
func (b *Broadcaster) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Publish records a new snapshot and invokes every subscriber with it.
// Identical consecutive snapshots are suppressed, guaranteeing at most one
// broadcast cycle per underlying session event. Only the session loop calls
// Publish, so subscribers observe transitions in order.
func (b *Broadcaster) Publish(snap Snapshot) {
	b.mu.Lock()
	if b.closed || snap.Equal(b.current) {
		b.mu.Unlock()
		return
	}
	b.current = snap
	// Copy the list so unsubscribing mid-broadcast cannot disturb this cycle.
	entries := make([]subscriberEntry, len(b.subs))
	copy(entries, b.subs)
	b.mu.Unlock()

	b.logger.Debug().
		Str("status", snap.Status.String()).
		Str("transport", snap.Transport.String()).
		Msg("broadcasting connection state")

	for _, entry := range entries {
		entry.fn(snap)
	}
}

// SetReconnectFunc installs the session's manual-reconnect hook. UI consumers
// trigger it through RequestReconnect without holding the session itself.
func (b *Broadcaster) SetReconnectFunc(fn func()) {
	b.mu.Lock()
	b.reconnect = fn
	b.mu.Unlock()
}

// RequestReconnect asks the owning session for an immediate retry. It is a
// no-op when no session is attached.
func (b *Broadcaster) RequestReconnect() {
	b.mu.Lock()
	fn := b.reconnect
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close tears the broadcaster down: subscribers are dropped and further
// publishes and subscriptions are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	b.reconnect = nil
}
