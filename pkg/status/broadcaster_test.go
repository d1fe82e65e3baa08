package status

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabsync/pkg/core"
)

func connectedSnap(reconnects int) Snapshot {
	now := time.Now()
	return Snapshot{
		Status:    core.StatusConnected,
		Transport: core.TransportNativeSocket,
		Metrics:   core.Metrics{ReconnectCount: reconnects, LastConnectedAt: &now},
	}
}

func TestBroadcaster_PublishNotifiesSubscribers(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())

	var got []Snapshot
	b.Subscribe(func(s Snapshot) { got = append(got, s) })

	b.Publish(Snapshot{Status: core.StatusConnecting})
	b.Publish(connectedSnap(0))

	require.Len(t, got, 2)
	assert.Equal(t, core.StatusConnecting, got[0].Status)
	assert.Equal(t, core.StatusConnected, got[1].Status)
}

func TestBroadcaster_DeduplicatesIdenticalSnapshots(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())

	calls := 0
	b.Subscribe(func(Snapshot) { calls++ })

	snap := Snapshot{Status: core.StatusConnecting}
	b.Publish(snap)
	b.Publish(snap)
	b.Publish(snap)

	assert.Equal(t, 1, calls, "identical snapshots produce one broadcast")
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())

	calls := 0
	unsub := b.Subscribe(func(Snapshot) { calls++ })

	b.Publish(Snapshot{Status: core.StatusConnecting})
	unsub()
	b.Publish(connectedSnap(0))

	assert.Equal(t, 1, calls)

	// Idempotent: a second call must not disturb other subscriptions.
	other := 0
	b.Subscribe(func(Snapshot) { other++ })
	unsub()
	b.Publish(Snapshot{Status: core.StatusReconnecting})
	assert.Equal(t, 1, other)
}

func TestBroadcaster_UnsubscribeDuringBroadcast(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())

	var unsubSecond func()
	first := 0
	second := 0
	third := 0

	b.Subscribe(func(Snapshot) {
		first++
		unsubSecond()
	})
	unsubSecond = b.Subscribe(func(Snapshot) { second++ })
	b.Subscribe(func(Snapshot) { third++ })

	b.Publish(Snapshot{Status: core.StatusConnecting})

	// The cycle in flight still reaches every subscriber it started with.
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, third)

	b.Publish(connectedSnap(0))
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, second, "removed before the second cycle")
	assert.Equal(t, 2, third)
}

func TestBroadcaster_SnapshotReflectsLastPublish(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	assert.Equal(t, core.StatusDisconnected, b.Snapshot().Status)

	snap := connectedSnap(3)
	b.Publish(snap)

	got := b.Snapshot()
	assert.True(t, snap.Equal(got))
	assert.Equal(t, 3, got.Metrics.ReconnectCount)
}

func TestBroadcaster_RequestReconnect(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())

	// No hook attached: must not panic.
	b.RequestReconnect()

	called := 0
	b.SetReconnectFunc(func() { called++ })
	b.RequestReconnect()
	assert.Equal(t, 1, called)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())

	calls := 0
	b.Subscribe(func(Snapshot) { calls++ })
	b.Close()

	b.Publish(Snapshot{Status: core.StatusConnecting})
	assert.Equal(t, 0, calls)

	unsub := b.Subscribe(func(Snapshot) { calls++ })
	b.Publish(connectedSnap(0))
	assert.Equal(t, 0, calls)
	unsub()
}

func TestSnapshot_Equal(t *testing.T) {
	a := connectedSnap(1)
	bSnap := a
	assert.True(t, a.Equal(bSnap))

	bSnap.Transport = core.TransportLongPoll
	assert.False(t, a.Equal(bSnap))

	c := a
	c.Metrics.LastError = "boom"
	assert.False(t, a.Equal(c))
}
