// Package bus is the in-process realtime event bus. Components publish
// domain events into it; viewers (and caches) subscribe by namespace.
// Delivery is best-effort: the bus is a notification channel, the store
// remains the source of truth for pull reads.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus fans events out to subscribers whose namespace prefix matches the
// event kind. Publishing never blocks: a subscriber with a full buffer
// misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish delivers evt to every matching subscriber. Events sharing the
// same subscriber arrive in publish order (per-channel FIFO), which gives
// the per-conversation ordering guarantee for message.created.
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
				// Subscriber is saturated; drop rather than block the writer.
			}
		}
	}
}

// Subscribe registers a buffered channel for all events whose kind starts
// with namespace. An empty namespace receives everything. The returned
// function removes the subscription.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
