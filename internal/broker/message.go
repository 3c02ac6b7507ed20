package broker

import (
	"github.com/spindlemq/spindle/internal/mqtt"
)

// Message is a pre-serialized PUBLISH held in a fixed buffer. Messages are
// value types; assignment copies the buffer.
type Message struct {
	buf [MaxMessageSize]byte
	n   int
}

// Bytes returns the serialized packet. The slice aliases the message buffer.
func (m *Message) Bytes() []byte { return m.buf[:m.n] }

// Len returns the serialized length.
func (m *Message) Len() int { return m.n }

// newMessage serializes a PUBLISH for outbound delivery. The broker forwards
// at QoS 0 with no packet identifier, dup and retain cleared.
func newMessage(topic string, payload []byte, limit int) (Message, error) {
	var m Message
	pkt := mqtt.PublishPacket{Topic: topic, Payload: payload}
	out, err := pkt.Encode(m.buf[:0])
	if err != nil || len(out) > limit {
		return Message{}, ErrMessageTooLong
	}
	m.n = len(out)
	return m, nil
}

// queuedMessage pairs a message with the subscribers that still have to
// consume it. It leaves the queue when the bitset drains to empty.
type queuedMessage struct {
	msg  Message
	subs BitSet
}

// msgQueue is a bounded deque of queuedMessage. Publishes push to the back and
// consumers visit the back entry only; the publish-lock keeps it from filling.
type msgQueue struct {
	items [QueueLen]queuedMessage
	head  int
	count int
}

func (q *msgQueue) len() int { return q.count }

func (q *msgQueue) pushBack(qm queuedMessage) bool {
	if q.count == QueueLen {
		return false
	}
	q.items[(q.head+q.count)%QueueLen] = qm
	q.count++
	return true
}

// back returns the most recently pushed entry, or nil when empty.
func (q *msgQueue) back() *queuedMessage {
	if q.count == 0 {
		return nil
	}
	return &q.items[(q.head+q.count-1)%QueueLen]
}

func (q *msgQueue) popBack() queuedMessage {
	qm := *q.back()
	q.count--
	return qm
}

func (q *msgQueue) popFront() queuedMessage {
	qm := q.items[q.head]
	q.head = (q.head + 1) % QueueLen
	q.count--
	return qm
}
