package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabsync/pkg/core"
)

func queuedMsg(i int) core.Message {
	msg := core.NewMessage(core.TypeEditOperation)
	msg.SessionID = fmt.Sprintf("m-%d", i)
	return msg
}

func TestSendQueue_FIFO(t *testing.T) {
	q := newSendQueue(5)
	assert.Equal(t, 0, q.len())

	for i := 0; i < 3; i++ {
		assert.False(t, q.push(queuedMsg(i)))
	}
	assert.Equal(t, 3, q.len())

	for i := 0; i < 3; i++ {
		msg, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("m-%d", i), msg.SessionID)
	}

	_, ok := q.pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.len())
}

func TestSendQueue_OverflowDropsOldest(t *testing.T) {
	q := newSendQueue(3)

	assert.False(t, q.push(queuedMsg(0)))
	assert.False(t, q.push(queuedMsg(1)))
	assert.False(t, q.push(queuedMsg(2)))
	assert.True(t, q.push(queuedMsg(3)), "full queue evicts the oldest")
	assert.True(t, q.push(queuedMsg(4)))
	assert.Equal(t, 3, q.len())

	want := []string{"m-2", "m-3", "m-4"}
	for _, id := range want {
		msg, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, id, msg.SessionID)
	}
}

func TestSendQueue_WrapAround(t *testing.T) {
	q := newSendQueue(2)

	q.push(queuedMsg(0))
	q.push(queuedMsg(1))
	q.pop()
	q.push(queuedMsg(2))

	msg, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "m-1", msg.SessionID)
	msg, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "m-2", msg.SessionID)
}

func TestSendQueue_MinimumCapacity(t *testing.T) {
	q := newSendQueue(0)
	assert.False(t, q.push(queuedMsg(0)))
	assert.True(t, q.push(queuedMsg(1)))

	msg, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "m-1", msg.SessionID)
}
