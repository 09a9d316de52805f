package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Delivery is non-blocking: events are dropped for subscribers whose
// buffer is full, and the drop is counted for diagnostics.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*Subscription
	next    int
	dropped atomic.Uint64
}

// Subscription is a handle to a bus subscription.
type Subscription struct {
	namespace string
	ch        chan Event
	cancel    func()
}

// C returns the subscription's event channel.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Cancel removes the subscription from the bus.
func (s *Subscription) Cancel() {
	s.cancel()
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix
// of event.Kind. A zero Timestamp is filled in with the current time.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Subscribe registers interest in events matching the given namespace
// prefix. bufSize controls the channel buffer.
func (b *Bus) Subscribe(namespace string, bufSize int) *Subscription {
	sub := &Subscription{
		namespace: namespace,
		ch:        make(chan Event, bufSize),
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	sub.cancel = func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return sub
}

// Dropped returns the number of events discarded due to full subscriber
// buffers since the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
