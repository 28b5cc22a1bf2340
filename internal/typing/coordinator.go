// Package typing coordinates the ephemeral per-(conversation, user)
// "is typing" signal: debounced on the way in, auto-expiring on the way
// out. In-memory state is authoritative for this node; the typing_state
// table is written through best-effort for other readers.
package typing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pfraquete/EKKLE-sub009/internal/bus"
	"github.com/pfraquete/EKKLE-sub009/internal/sched"
	"github.com/pfraquete/EKKLE-sub009/internal/store"
)

type key struct {
	conversationID string
	userID         string
}

type entry struct {
	typing     bool
	lastSignal time.Time
}

// Coordinator owns every typing state machine. State machine per key:
// IDLE -> (signal) -> TYPING -> (expiry, explicit stop, or message send)
// -> IDLE. At most one expiry timer is pending per key; a fresh signal
// replaces it instead of stacking.
type Coordinator struct {
	mu       sync.Mutex
	states   map[key]*entry
	timers   *sched.Registry
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
	debounce time.Duration
	expiry   time.Duration
	now      func() time.Time
}

// NewCoordinator creates a coordinator. debounce collapses rapid repeated
// signals; expiry is how long after the last signal the typing state
// decays on its own.
func NewCoordinator(db *store.DB, b *bus.Bus, timers *sched.Registry, logger *zap.Logger, debounce, expiry time.Duration) *Coordinator {
	return &Coordinator{
		states:   make(map[key]*entry),
		timers:   timers,
		db:       db,
		bus:      b,
		logger:   logger,
		debounce: debounce,
		expiry:   expiry,
		now:      time.Now,
	}
}

// Signal records intent to type. The first signal transitions to TYPING
// immediately and arms the expiry timer; signals inside the debounce
// window only refresh the last-signal time (the expiry callback re-arms
// for the remainder); signals past the window reschedule the timer.
func (c *Coordinator) Signal(conversationID, userID string) {
	k := key{conversationID, userID}
	now := c.now()

	c.mu.Lock()
	e := c.states[k]
	if e == nil {
		e = &entry{}
		c.states[k] = e
	}

	if e.typing {
		sinceLast := now.Sub(e.lastSignal)
		e.lastSignal = now
		c.mu.Unlock()
		if sinceLast >= c.debounce {
			c.timers.Schedule(c.expiryKey(k), c.expiry, func() { c.expire(k) })
			c.persist(k, true, now.Add(c.expiry))
		}
		return
	}

	e.typing = true
	e.lastSignal = now
	c.mu.Unlock()

	c.timers.Schedule(c.expiryKey(k), c.expiry, func() { c.expire(k) })
	c.persist(k, true, now.Add(c.expiry))
	c.publish(k, true)
}

// Stop transitions to not-typing immediately, cancelling the pending
// expiry timer. Emits a stop event only if the prior state was typing.
// A message send is an implicit Stop for its sender.
func (c *Coordinator) Stop(conversationID, userID string) {
	k := key{conversationID, userID}

	c.mu.Lock()
	e := c.states[k]
	if e == nil || !e.typing {
		c.mu.Unlock()
		return
	}
	e.typing = false
	c.mu.Unlock()

	c.timers.Cancel(c.expiryKey(k))
	c.persist(k, false, time.Time{})
	c.publish(k, false)
}

// IsTyping reports the current state for (conversation, user).
func (c *Coordinator) IsTyping(conversationID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.states[key{conversationID, userID}]
	return e != nil && e.typing
}

// Shutdown cancels every pending timer. Ghost typing states in the
// persisted table decay via expires_at.
func (c *Coordinator) Shutdown() {
	c.timers.CancelAll()
}

// expire fires when the expiry timer elapses. Signals that arrived inside
// the debounce window moved lastSignal without rescheduling, so the timer
// re-arms for the remainder instead of expiring early.
func (c *Coordinator) expire(k key) {
	now := c.now()

	c.mu.Lock()
	e := c.states[k]
	if e == nil || !e.typing {
		c.mu.Unlock()
		return
	}
	if remaining := e.lastSignal.Add(c.expiry).Sub(now); remaining > 0 {
		c.mu.Unlock()
		c.timers.Schedule(c.expiryKey(k), remaining, func() { c.expire(k) })
		return
	}
	e.typing = false
	c.mu.Unlock()

	c.persist(k, false, time.Time{})
	c.publish(k, false)
}

func (c *Coordinator) expiryKey(k key) sched.Key {
	return sched.Key{Kind: sched.KindTypingExpiry, ConversationID: k.conversationID, UserID: k.userID}
}

func (c *Coordinator) publish(k key, isTyping bool) {
	c.bus.Publish(bus.Event{
		Kind: bus.KindTypingChanged,
		Key:  k.conversationID,
		Payload: bus.TypingChanged{
			ConversationID: k.conversationID,
			UserID:         k.userID,
			IsTyping:       isTyping,
		},
	})
}

// persist writes through to typing_state. Failures are logged and
// swallowed: typing signals are best-effort, a missing row just reads as
// "not typing".
func (c *Coordinator) persist(k key, isTyping bool, expiresAt time.Time) {
	var expires int64
	if !expiresAt.IsZero() {
		expires = expiresAt.UnixMilli()
	}
	if err := c.db.UpsertTyping(k.conversationID, k.userID, isTyping, expires); err != nil {
		c.logger.Warn("typing write dropped",
			zap.String("conversation_id", k.conversationID),
			zap.String("user_id", k.userID),
			zap.Error(err))
	}
}
