package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Publish never blocks: a subscriber whose buffer is full misses the event
// and is flagged as lagged so it can resynchronize from durable state.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*Subscription
	next int
}

// Subscription receives events whose kind starts with its namespace.
type Subscription struct {
	C <-chan Event

	namespace string
	ch        chan Event
	lagged    chan struct{}
	lagOnce   sync.Once
	closeOnce sync.Once
	remove    func()
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of event.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			sub.lagOnce.Do(func() { close(sub.lagged) })
		}
	}
}

// Subscribe registers a subscription for the given namespace prefix with a
// buffer of bufSize events.
func (b *Bus) Subscribe(namespace string, bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{
		C:         ch,
		namespace: namespace,
		ch:        ch,
		lagged:    make(chan struct{}),
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	sub.remove = func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return sub
}

// Lagged is closed once the subscription has missed at least one event.
func (s *Subscription) Lagged() <-chan struct{} {
	return s.lagged
}

// Close unregisters the subscription. Events already buffered stay readable.
func (s *Subscription) Close() {
	s.closeOnce.Do(s.remove)
}
