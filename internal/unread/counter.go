// Package unread derives per-user unread counts from the message log and
// read markers. Counts are computed on read (pull); the event bus only
// invalidates cached totals, so markRead calls from any of a user's
// sessions converge without double-counting.
package unread

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pfraquete/EKKLE-sub009/internal/bus"
	"github.com/pfraquete/EKKLE-sub009/internal/domain"
	"github.com/pfraquete/EKKLE-sub009/internal/store"
)

// Counter serves unread totals with a per-user cache. It subscribes to
// message.created and read.updated to drop stale entries.
type Counter struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	totals map[string]int
	epochs map[string]uint64

	// afterCompute runs between the store read and the cache write.
	// Tests use it to interleave an Invalidate.
	afterCompute func(userID string)

	cancel context.CancelFunc
}

// NewCounter creates a counter backed by the store.
func NewCounter(db *store.DB, b *bus.Bus, logger *zap.Logger) *Counter {
	return &Counter{
		db:     db,
		bus:    b,
		logger: logger,
		totals: make(map[string]int),
		epochs: make(map[string]uint64),
	}
}

// Start subscribes to invalidating events on the bus.
func (c *Counter) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	msgCh, unsubMsg := c.bus.Subscribe("message.", 256)
	readCh, unsubRead := c.bus.Subscribe("read.", 256)

	go func() {
		defer unsubMsg()
		defer unsubRead()
		for {
			select {
			case evt := <-msgCh:
				c.handleMessageCreated(evt)
			case evt := <-readCh:
				c.handleReadUpdated(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the invalidation loop.
func (c *Counter) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Total returns the user's unread count across all conversations,
// excluding their own messages. The computed value is cached only if no
// Invalidate landed while the store was being read; otherwise the next
// call recomputes against the fresh markers.
func (c *Counter) Total(userID string) (int, error) {
	c.mu.Lock()
	if total, ok := c.totals[userID]; ok {
		c.mu.Unlock()
		return total, nil
	}
	epoch := c.epochs[userID]
	c.epochs[userID] = epoch // materialize so a cache flush can bump it
	c.mu.Unlock()

	total, err := c.db.UnreadTotal(userID)
	if err != nil {
		return 0, domain.Transient("unread total", err)
	}

	if c.afterCompute != nil {
		c.afterCompute(userID)
	}

	c.mu.Lock()
	if c.epochs[userID] == epoch {
		c.totals[userID] = total
	}
	c.mu.Unlock()
	return total, nil
}

// ByConversation returns the user's unread count per conversation.
// Always computed fresh: the list view that calls this is itself a pull.
func (c *Counter) ByConversation(userID string) (map[string]int, error) {
	counts, err := c.db.UnreadByConversation(userID)
	if err != nil {
		return nil, domain.Transient("unread by conversation", err)
	}
	return counts, nil
}

// Invalidate drops the cached total for a user. Bumping the epoch also
// discards any total currently being computed from pre-invalidation
// markers.
func (c *Counter) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.totals, userID)
	c.epochs[userID]++
	c.mu.Unlock()
}

// handleMessageCreated invalidates every participant of the conversation
// except the sender (their own messages never count as unread).
func (c *Counter) handleMessageCreated(evt bus.Event) {
	payload, ok := evt.Payload.(bus.MessageCreated)
	if !ok {
		return
	}
	parts, err := c.db.ListParticipants(payload.ConversationID)
	if err != nil {
		// Stale cache heals on the next invalidation; drop everything we
		// know about to stay safe.
		c.logger.Warn("participant lookup failed, flushing unread cache", zap.Error(err))
		c.mu.Lock()
		c.totals = make(map[string]int)
		for user := range c.epochs {
			c.epochs[user]++
		}
		c.mu.Unlock()
		return
	}
	for _, p := range parts {
		if p.UserID == payload.SenderID {
			continue
		}
		c.Invalidate(p.UserID)
	}
}

func (c *Counter) handleReadUpdated(evt bus.Event) {
	payload, ok := evt.Payload.(bus.ReadUpdated)
	if !ok {
		return
	}
	c.Invalidate(payload.UserID)
}
