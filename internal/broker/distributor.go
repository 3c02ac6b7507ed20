package broker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spindlemq/spindle/internal/metrics"
)

// willPublishTimeout bounds how long cleanup waits for a queue slot before
// dropping the will.
const willPublishTimeout = 5 * time.Second

// Distributor is the process-wide pub/sub fabric shared by all connections.
// It owns the topic table, the outbound message queue, the per-slot wakers and
// the publish-lock bitset. All state is guarded by one mutex; no operation
// blocks while holding it.
type Distributor struct {
	log *zap.Logger

	mu     sync.Mutex
	queue  msgQueue
	topics *TopicTable
	lock   BitSet

	// One notification channel per slot (capacity 1): wakers signal "a
	// delivery may be ready", lockWakers signal "a queue slot may be free".
	wakers     [MaxConnections]chan struct{}
	lockWakers [MaxConnections]chan struct{}
}

// NewDistributor returns an empty distributor.
func NewDistributor(log *zap.Logger) *Distributor {
	d := &Distributor{
		log:    log,
		topics: NewTopicTable(),
	}
	for i := range d.wakers {
		d.wakers[i] = make(chan struct{}, 1)
		d.lockWakers[i] = make(chan struct{}, 1)
	}
	return d
}

// Handle returns the per-connection interface for slot id.
func (d *Distributor) Handle(id int) *Handle {
	checkIndex(id)
	return &Handle{d: d, id: id}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (d *Distributor) wakeLockWaiters() {
	for i := range d.lockWakers {
		notify(d.lockWakers[i])
	}
}

// enqueueLocked wakes every addressed subscriber and pushes the message onto
// the back of the queue. Caller holds the mutex and has verified the
// subscriber set is non-empty.
func (d *Distributor) enqueueLocked(qm queuedMessage) error {
	qm.subs.ForEachSet(func(id int) { notify(d.wakers[id]) })
	if !d.queue.pushBack(qm) {
		return ErrQueueFull
	}
	metrics.QueueDepth.Set(float64(d.queue.len()))
	return nil
}

// takeNext implements the consumption step for slot id against the back of
// the queue. Caller holds the mutex.
func (d *Distributor) takeNext(id int) (Message, bool) {
	back := d.queue.back()
	if back == nil || !back.subs.Test(id) {
		return Message{}, false
	}
	back.subs.Unset(id)
	if !back.subs.IsEmpty() {
		// More consumers outstanding; hand out a copy.
		return back.msg, true
	}
	qm := d.queue.popBack()
	metrics.QueueDepth.Set(float64(d.queue.len()))
	d.wakeLockWaiters()
	return qm.msg, true
}

// Handle is a connection's view of the shared distributor: its slot id plus
// the optional will it publishes on behalf of the client.
type Handle struct {
	d  *Distributor
	id int

	willTopic string
	will      *Message
}

// ID returns the handle's slot id.
func (h *Handle) ID() int { return h.id }

// Publish routes payload to every subscriber matching topic. Publishing to a
// topic nobody subscribes to generates no traffic.
func (h *Handle) Publish(topic string, payload []byte) error {
	if len(topic) > MaxTopicLength {
		return ErrTopicTooLong
	}
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	subs := h.d.topics.Subscribed(topic)
	if subs.IsEmpty() {
		return nil
	}
	msg, err := newMessage(topic, payload, MaxMessageSize)
	if err != nil {
		return err
	}
	return h.d.enqueueLocked(queuedMessage{msg: msg, subs: subs})
}

// Subscribe registers a topic filter for this slot.
func (h *Handle) Subscribe(filter string) error {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if err := h.d.topics.Insert(filter, h.id); err != nil {
		return err
	}
	metrics.SubscriptionsActive.Set(float64(h.d.topics.Len()))
	return nil
}

// Unsubscribe removes a topic filter for this slot.
func (h *Handle) Unsubscribe(filter string) {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	h.d.topics.Remove(filter, h.id)
	metrics.SubscriptionsActive.Set(float64(h.d.topics.Len()))
}

// UnsubscribeAll removes every filter owned by this slot and strips the slot
// from all queued messages, dropping messages that lose their last consumer.
func (h *Handle) UnsubscribeAll() {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	h.d.topics.RemoveAll(h.id)
	metrics.SubscriptionsActive.Set(float64(h.d.topics.Len()))

	n := h.d.queue.len()
	for i := 0; i < n; i++ {
		qm := h.d.queue.popFront()
		qm.subs.Unset(h.id)
		if qm.subs.IsEmpty() {
			continue
		}
		h.d.queue.pushBack(qm)
	}
	if h.d.queue.len() != n {
		metrics.QueueDepth.Set(float64(h.d.queue.len()))
		h.d.wakeLockWaiters()
	}
}

// Next blocks until a queued message addressed to this slot is available.
func (h *Handle) Next(ctx context.Context) (Message, error) {
	for {
		h.d.mu.Lock()
		msg, ok := h.d.takeNext(h.id)
		h.d.mu.Unlock()
		if ok {
			return msg, nil
		}
		select {
		case <-h.d.wakers[h.id]:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Lock acquires publish permission for this slot. Permission is granted when
// strictly more queue slots are free than locks are currently granted, which
// keeps queue.len() + granted locks at or below QueueLen.
func (h *Handle) Lock(ctx context.Context) error {
	for {
		h.d.mu.Lock()
		if h.d.lock.Test(h.id) {
			h.d.mu.Unlock()
			panic("publish-lock already held by this slot")
		}
		if QueueLen-h.d.queue.len() > h.d.lock.CountOnes() {
			h.d.lock.Set(h.id)
			metrics.PublishLocksHeld.Set(float64(h.d.lock.CountOnes()))
			h.d.mu.Unlock()
			return nil
		}
		h.d.mu.Unlock()
		select {
		case <-h.d.lockWakers[h.id]:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Unlock releases publish permission and wakes other waiters. Releasing a
// permission that is not held is a no-op.
func (h *Handle) Unlock() {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if !h.d.lock.Test(h.id) {
		return
	}
	h.d.lock.Unset(h.id)
	metrics.PublishLocksHeld.Set(float64(h.d.lock.CountOnes()))
	h.d.wakeLockWaiters()
}

// SetWill pre-serializes the will PUBLISH announced at CONNECT.
func (h *Handle) SetWill(topic string, payload []byte) error {
	if len(topic) > MaxTopicLength {
		return ErrTopicTooLong
	}
	msg, err := newMessage(topic, payload, MaxWillLength)
	if err != nil {
		return err
	}
	h.will = &msg
	h.willTopic = topic
	return nil
}

// ClearWill discards a pending will (clean DISCONNECT).
func (h *Handle) ClearWill() {
	h.will = nil
	h.willTopic = ""
}

// Cleanup restores distributor invariants after a connection ends: all
// subscriptions are removed, any held publish-lock is released, and a pending
// will is published. The will waits for a queue slot like any publish, but
// only for a bounded time; slot reuse wins over a wedged will.
func (h *Handle) Cleanup() {
	h.UnsubscribeAll()
	h.Unlock()
	if h.will == nil {
		return
	}
	will, topic := *h.will, h.willTopic
	h.ClearWill()

	ctx, cancel := context.WithTimeout(context.Background(), willPublishTimeout)
	defer cancel()
	if err := h.Lock(ctx); err != nil {
		h.d.log.Warn("dropping will, no queue slot freed",
			zap.Int("slot", h.id), zap.String("topic", topic))
		metrics.WillsDropped.Inc()
		return
	}
	h.d.mu.Lock()
	subs := h.d.topics.Subscribed(topic)
	var err error
	if !subs.IsEmpty() {
		err = h.d.enqueueLocked(queuedMessage{msg: will, subs: subs})
	}
	h.d.mu.Unlock()
	h.Unlock()
	if err != nil {
		h.d.log.Warn("dropping will", zap.Int("slot", h.id), zap.Error(err))
		metrics.WillsDropped.Inc()
		return
	}
	if !subs.IsEmpty() {
		metrics.WillsFired.Inc()
	}
}
