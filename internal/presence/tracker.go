// Package presence tracks best-effort online/offline state per user.
// Callers drive it with a heartbeat loop; the tracker only records state
// and derives staleness at read time — there is no background sweep.
package presence

import (
	"time"

	"go.uber.org/zap"

	"github.com/pfraquete/EKKLE-sub009/internal/bus"
	"github.com/pfraquete/EKKLE-sub009/internal/store"
)

// Tracker owns the per-user presence rows. Each user writes only their
// own row, so no cross-user locking is needed.
type Tracker struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	window time.Duration
	now    func() time.Time
}

// NewTracker creates a tracker with the given staleness window: a user
// whose last heartbeat is older than the window counts as offline.
func NewTracker(db *store.DB, b *bus.Bus, logger *zap.Logger, window time.Duration) *Tracker {
	return &Tracker{
		db:     db,
		bus:    b,
		logger: logger,
		window: window,
		now:    time.Now,
	}
}

// SetOnline records a heartbeat. Idempotent: the heartbeat timestamp is
// always refreshed, but presence.changed is published only when the user
// was not already online within the window. Store failures are logged and
// swallowed — a dropped heartbeat self-heals on the next one.
func (t *Tracker) SetOnline(userID string) {
	now := t.now()
	wasOnline := t.onlineAt(userID, now)

	if err := t.db.UpsertPresence(userID, true, now.UnixMilli()); err != nil {
		t.logger.Warn("heartbeat dropped", zap.String("user_id", userID), zap.Error(err))
		return
	}

	if !wasOnline {
		t.bus.Publish(bus.Event{
			Kind:    bus.KindPresenceChanged,
			Key:     userID,
			Payload: bus.PresenceChanged{UserID: userID, IsOnline: true},
		})
	}
}

// SetOffline marks the user offline immediately, without waiting for the
// staleness window. Used on explicit disconnect. Idempotent.
func (t *Tracker) SetOffline(userID string) {
	now := t.now()
	wasOnline := t.onlineAt(userID, now)

	if err := t.db.UpsertPresence(userID, false, now.UnixMilli()); err != nil {
		t.logger.Warn("offline signal dropped", zap.String("user_id", userID), zap.Error(err))
		return
	}

	if wasOnline {
		t.bus.Publish(bus.Event{
			Kind:    bus.KindPresenceChanged,
			Key:     userID,
			Payload: bus.PresenceChanged{UserID: userID, IsOnline: false},
		})
	}
}

// IsOnline reports whether the user is online and their last heartbeat is
// inside the staleness window.
func (t *Tracker) IsOnline(userID string) bool {
	return t.onlineAt(userID, t.now())
}

func (t *Tracker) onlineAt(userID string, now time.Time) bool {
	p, err := t.db.GetPresence(userID)
	if err != nil {
		t.logger.Warn("presence read failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	if p == nil || !p.IsOnline {
		return false
	}
	return now.UnixMilli()-p.LastHeartbeatAt < t.window.Milliseconds()
}
