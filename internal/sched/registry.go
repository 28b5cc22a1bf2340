// Package sched provides a cancellable-timer registry. Session timers
// (typing debounce, typing expiry) are keyed by (kind, conversation, user)
// so a new schedule always replaces the pending one instead of stacking,
// and everything can be torn down on shutdown.
package sched

import (
	"sync"
	"time"
)

// Timer kinds used by the messaging core.
const (
	KindTypingExpiry   = "typing_expiry"
	KindTypingDebounce = "typing_debounce"
)

// Key identifies a single logical timer.
type Key struct {
	Kind           string
	ConversationID string
	UserID         string
}

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Registry owns at most one pending timer per key.
type Registry struct {
	mu     sync.Mutex
	timers map[Key]*entry
	gen    uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{timers: make(map[Key]*entry)}
}

// Schedule arms fn to run after d, replacing any pending timer under the
// same key. fn runs on the timer goroutine with the key already removed
// from the registry.
func (r *Registry) Schedule(key Key, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.timers[key]; ok {
		prev.timer.Stop()
	}
	r.gen++
	gen := r.gen
	e := &entry{gen: gen}
	e.timer = time.AfterFunc(d, func() {
		// A replaced timer can still fire if Stop raced its expiry; the
		// generation check makes the stale fire a no-op.
		r.mu.Lock()
		current, ok := r.timers[key]
		if !ok || current.gen != gen {
			r.mu.Unlock()
			return
		}
		delete(r.timers, key)
		r.mu.Unlock()
		fn()
	})
	r.timers[key] = e
}

// Cancel stops the pending timer for key. Reports whether one was pending.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.timers, key)
	return true
}

// Active reports whether a timer is pending for key.
func (r *Registry) Active(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

// Len returns the number of pending timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// CancelAll stops every pending timer. Called on session end and daemon
// shutdown so no ghost timers outlive their owner.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.timers {
		e.timer.Stop()
		delete(r.timers, key)
	}
}
