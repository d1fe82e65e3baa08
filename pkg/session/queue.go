package session

import "collabsync/pkg/core"

// sendQueue is a bounded FIFO for messages submitted while the session is not
// connected. On overflow the oldest message is dropped so the most recent
// state always survives a reconnect.
type sendQueue struct {
	buf   []core.Message
	head  int
	count int
}

func newSendQueue(capacity int) *sendQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &sendQueue{buf: make([]core.Message, capacity)}
}

// push appends a message, evicting the oldest entry when full. It returns
// true if an entry was dropped.
func (q *sendQueue) push(msg core.Message) (dropped bool) {
	if q.count == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		dropped = true
	}
	q.buf[(q.head+q.count)%len(q.buf)] = msg
	q.count++
	return dropped
}

// pop removes and returns the oldest message.
func (q *sendQueue) pop() (core.Message, bool) {
	if q.count == 0 {
		return core.Message{}, false
	}
	msg := q.buf[q.head]
	q.buf[q.head] = core.Message{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return msg, true
}

func (q *sendQueue) len() int {
	return q.count
}
