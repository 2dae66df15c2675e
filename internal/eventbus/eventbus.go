// Package eventbus fans ingested events out to SSE subscribers via
// bounded, drop-oldest-on-overflow per-subscriber queues.
package eventbus

import (
	"errors"
	"sync"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

// ErrTooManySubscribers is returned by Subscribe once the subscriber cap
// is reached.
var ErrTooManySubscribers = errors.New("eventbus: subscriber cap reached")

// DefaultHeartbeat is the cadence of keep-alive frames sent to idle
// subscribers.
const DefaultHeartbeat = 30 * time.Second

// DefaultQueueSize bounds each subscriber's pending-frame queue.
const DefaultQueueSize = 64

// Subscription is a live SSE subscriber handle.
type Subscription struct {
	ch     chan []byte
	bus    *Bus
	id     uint64
	closed bool
	mu     sync.Mutex
}

// C returns the channel of pending frames (already JSON-encoded payloads,
// or nil to indicate a heartbeat).
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Unsubscribe removes the subscription from the bus. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus is the in-process event fan-out hub.
type Bus struct {
	mu          sync.Mutex
	subs        map[uint64]*Subscription
	nextID      uint64
	maxSubs     int
	queueSize   int
	heartbeat   time.Duration
	closeCh     chan struct{}
	closeOnce   sync.Once
}

// New constructs a Bus with the given subscriber cap. A zero heartbeat
// uses DefaultHeartbeat, a zero queueSize uses DefaultQueueSize.
func New(maxSubs int, queueSize int, heartbeat time.Duration) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	b := &Bus{
		subs:      make(map[uint64]*Subscription),
		maxSubs:   maxSubs,
		queueSize: queueSize,
		heartbeat: heartbeat,
		closeCh:   make(chan struct{}),
	}
	go b.heartbeatLoop()
	return b
}

// Subscribe registers a new subscriber, or returns ErrTooManySubscribers
// if the bus is at capacity.
func (b *Bus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxSubs > 0 && len(b.subs) >= b.maxSubs {
		return nil, ErrTooManySubscribers
	}

	b.nextID++
	sub := &Subscription{ch: make(chan []byte, b.queueSize), bus: b, id: b.nextID}
	b.subs[sub.id] = sub
	return sub, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
}

// Emit publishes a JSON-encoded frame to every current subscriber,
// dropping the oldest queued frame for any subscriber whose queue is
// full rather than blocking the publisher.
func (b *Bus) Emit(payload []byte) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.deliver(sub, payload)
	}
}

func (b *Bus) deliver(sub *Subscription, payload []byte) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- payload:
		return
	default:
	}

	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- payload:
	default:
		log.Debugf("eventbus: dropping frame for overloaded subscriber")
	}
}

// Count returns the current subscriber count.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) heartbeatLoop() {
	t := time.NewTicker(b.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-b.closeCh:
			return
		case <-t.C:
			b.Emit(nil)
		}
	}
}

// Close stops the heartbeat loop and closes every live subscription.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.closeCh)
	})

	b.mu.Lock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.unsubscribe(id)
	}
}
