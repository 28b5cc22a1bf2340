// Package conversation manages conversations and their participant sets:
// creation (idempotent for direct pairs), access checks, list views, and
// monotonic read markers.
package conversation

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/pfraquete/EKKLE-sub009/internal/bus"
	"github.com/pfraquete/EKKLE-sub009/internal/domain"
	"github.com/pfraquete/EKKLE-sub009/internal/store"
	"github.com/pfraquete/EKKLE-sub009/internal/unread"
)

// Detail is a conversation with its participant rows.
type Detail struct {
	store.Conversation
	Participants []store.Participant
}

// Summary is one row of a user's conversation list.
type Summary struct {
	store.ConversationSummary
}

const previewMaxLen = 100

// Registry owns the Conversation and Participant aggregates.
type Registry struct {
	db     *store.DB
	bus    *bus.Bus
	unread *unread.Counter
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry creates a registry. The unread counter supplies per-
// conversation counts for list views.
func NewRegistry(db *store.DB, b *bus.Bus, counter *unread.Counter, logger *zap.Logger) *Registry {
	return &Registry{
		db:     db,
		bus:    b,
		unread: counter,
		logger: logger,
		now:    time.Now,
	}
}

// Create starts a conversation between the given users. Fewer than two
// unique ids is a validation error. For a direct pair, an existing
// conversation with exactly those two participants is returned instead of
// creating a duplicate.
func (r *Registry) Create(participantIDs []string) (*store.Conversation, error) {
	ids := lo.Uniq(lo.Filter(participantIDs, func(id string, _ int) bool { return id != "" }))
	if len(ids) < 2 {
		return nil, domain.ErrInvalidParticipants
	}

	directKey := ""
	isDirect := len(ids) == 2
	if isDirect {
		directKey = directPairKey(ids[0], ids[1])
		existing, err := r.db.FindDirectByKey(directKey)
		if err != nil {
			return nil, domain.Transient("find direct conversation", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := r.now().UnixMilli()
	c := &store.Conversation{
		ID:             uuid.New().String(),
		IsDirect:       isDirect,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := r.db.CreateConversation(c, directKey, ids); err != nil {
		if isDirect {
			// Lost a creation race: the unique direct_key index kept the
			// winner, so hand that one back.
			if winner, findErr := r.db.FindDirectByKey(directKey); findErr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, domain.Transient("create conversation", err)
	}
	r.logger.Info("conversation created",
		zap.String("conversation_id", c.ID),
		zap.Bool("direct", isDirect),
		zap.Int("participants", len(ids)))
	return c, nil
}

// Get returns the conversation with its participants. NotFound when the
// id is unknown, Forbidden when the requester is not a participant.
func (r *Registry) Get(conversationID, requestingUserID string) (*Detail, error) {
	c, err := r.db.GetConversation(conversationID)
	if err != nil {
		return nil, domain.Transient("get conversation", err)
	}
	if c == nil {
		return nil, domain.ErrNotFound
	}

	parts, err := r.db.ListParticipants(conversationID)
	if err != nil {
		return nil, domain.Transient("list participants", err)
	}
	if !lo.ContainsBy(parts, func(p store.Participant) bool { return p.UserID == requestingUserID }) {
		return nil, domain.ErrForbidden
	}

	return &Detail{Conversation: *c, Participants: parts}, nil
}

// List returns the user's conversations sorted by last activity
// descending, each with a latest-message preview and the user's unread
// count.
func (r *Registry) List(userID string) ([]Summary, error) {
	rows, err := r.db.ListConversationSummaries(userID)
	if err != nil {
		return nil, domain.Transient("list conversations", err)
	}
	counts, err := r.unread.ByConversation(userID)
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row store.ConversationSummary, _ int) Summary {
		row.UnreadCount = counts[row.ID]
		row.LastMessagePreview = truncate(row.LastMessagePreview, previewMaxLen)
		return Summary{ConversationSummary: row}
	}), nil
}

// MarkRead advances the participant's read marker to uptoMessageID.
// The target must be a message of this conversation and newer than the
// current marker — markers never move backward.
func (r *Registry) MarkRead(conversationID, userID string, uptoMessageID int64) error {
	p, err := r.db.GetParticipant(conversationID, userID)
	if err != nil {
		return domain.Transient("get participant", err)
	}
	if p == nil {
		c, err := r.db.GetConversation(conversationID)
		if err != nil {
			return domain.Transient("get conversation", err)
		}
		if c == nil {
			return domain.ErrNotFound
		}
		return domain.ErrForbidden
	}

	msg, err := r.db.GetMessage(uptoMessageID)
	if err != nil {
		return domain.Transient("get message", err)
	}
	if msg == nil || msg.ConversationID != conversationID {
		return domain.ErrInvalidReference
	}

	moved, err := r.db.UpdateReadMarker(conversationID, userID, uptoMessageID, r.now().UnixMilli())
	if err != nil {
		return domain.Transient("update read marker", err)
	}
	if !moved {
		// Marking the message the marker already points at is a retry or a
		// second session catching up: a no-op success, no event. Only a
		// strictly older target is stale.
		cur, err := r.db.GetParticipant(conversationID, userID)
		if err != nil {
			return domain.Transient("get participant", err)
		}
		if cur != nil && cur.LastReadMessageID == uptoMessageID {
			return nil
		}
		return domain.ErrStaleReadMarker
	}

	// Drop the cached total now so a query right after this call sees the
	// new marker; the bus event covers the user's other sessions.
	r.unread.Invalidate(userID)

	r.bus.Publish(bus.Event{
		Kind: bus.KindReadUpdated,
		Key:  conversationID,
		Payload: bus.ReadUpdated{
			ConversationID: conversationID,
			UserID:         userID,
			UptoMessageID:  uptoMessageID,
		},
	})
	return nil
}

// directPairKey builds the canonical key for a 1:1 pair. Sorting makes
// (a,b) and (b,a) collide on the unique index.
func directPairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
