// Package message implements send, list, and soft-delete over the
// append-only per-conversation message log.
package message

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pfraquete/EKKLE-sub009/internal/bus"
	"github.com/pfraquete/EKKLE-sub009/internal/domain"
	"github.com/pfraquete/EKKLE-sub009/internal/store"
	"github.com/pfraquete/EKKLE-sub009/internal/typing"
)

const previewMaxLen = 100

// SendInput carries everything a send needs. ClientKey is an optional
// idempotency token: retrying with the same key returns the message
// stored by the first attempt.
type SendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	ReplyToID      int64
	Attachments    []string
	ClientKey      string
}

// Page is one page of messages, oldest to newest, with the cursor for the
// next (older) page. NextCursor is empty when history is exhausted.
type Page struct {
	Messages   []store.Message
	NextCursor string
}

// Service is the sole writer of the message log.
type Service struct {
	db        *store.DB
	bus       *bus.Bus
	typing    *typing.Coordinator
	logger    *zap.Logger
	maxLength int
	pageSize  int
	now       func() time.Time
}

// NewService creates the message service. maxLength bounds content in
// runes; pageSize is the default and maximum page for List.
func NewService(db *store.DB, b *bus.Bus, coordinator *typing.Coordinator, logger *zap.Logger, maxLength, pageSize int) *Service {
	return &Service{
		db:        db,
		bus:       b,
		typing:    coordinator,
		logger:    logger,
		maxLength: maxLength,
		pageSize:  pageSize,
		now:       time.Now,
	}
}

// Send validates and appends a message. On success the conversation's
// last activity is bumped (same transaction as the insert), the sender's
// typing state is cleared, and message.created is published.
func (s *Service) Send(in SendInput) (*store.Message, error) {
	if ok, err := s.db.IsParticipant(in.ConversationID, in.SenderID); err != nil {
		return nil, domain.Transient("participant check", err)
	} else if !ok {
		return nil, domain.ErrForbidden
	}

	if strings.TrimSpace(in.Content) == "" {
		return nil, domain.ErrEmptyContent
	}
	if utf8.RuneCountInString(in.Content) > s.maxLength {
		return nil, domain.ErrContentTooLong
	}

	if in.ClientKey != "" {
		existing, err := s.db.GetMessageByClientKey(in.ConversationID, in.ClientKey)
		if err != nil {
			return nil, domain.Transient("idempotency lookup", err)
		}
		if existing != nil {
			// Duplicate retry: the first attempt already fanned out.
			return existing, nil
		}
	}

	if in.ReplyToID != 0 {
		parent, err := s.db.GetMessage(in.ReplyToID)
		if err != nil {
			return nil, domain.Transient("reply lookup", err)
		}
		if parent == nil || parent.ConversationID != in.ConversationID {
			return nil, domain.ErrInvalidReply
		}
	}

	m := &store.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		ReplyToID:      in.ReplyToID,
		Attachments:    in.Attachments,
		ClientKey:      in.ClientKey,
		CreatedAt:      s.now().UnixMilli(),
	}
	if _, err := s.db.InsertMessage(m); err != nil {
		// Two sends with the same idempotency token can race the lookup
		// above; the loser hits the unique client_key index and returns
		// the winner's message.
		if in.ClientKey != "" && store.IsConstraint(err) {
			existing, lookupErr := s.db.GetMessageByClientKey(in.ConversationID, in.ClientKey)
			if lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, domain.Transient("insert message", err)
	}

	// A send means the sender stopped composing.
	s.typing.Stop(in.ConversationID, in.SenderID)

	s.publishCreated(m)
	s.logger.Info("message sent",
		zap.String("conversation_id", m.ConversationID),
		zap.Int64("message_id", m.ID))
	return m, nil
}

// PostSystem appends a system message (no sender, no membership check).
// Used for conversation lifecycle notices.
func (s *Service) PostSystem(conversationID, content string) (*store.Message, error) {
	c, err := s.db.GetConversation(conversationID)
	if err != nil {
		return nil, domain.Transient("get conversation", err)
	}
	if c == nil {
		return nil, domain.ErrNotFound
	}
	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrEmptyContent
	}

	m := &store.Message{
		ConversationID: conversationID,
		Content:        content,
		CreatedAt:      s.now().UnixMilli(),
	}
	if _, err := s.db.InsertMessage(m); err != nil {
		return nil, domain.Transient("insert system message", err)
	}
	s.publishCreated(m)
	return m, nil
}

// List returns a page of messages for a participant. cursor is the value
// returned by the previous call ("" for the newest page). Pages run
// oldest to newest; paging moves backward through history.
func (s *Service) List(conversationID, requestingUserID, cursor string, limit int) (*Page, error) {
	if ok, err := s.db.IsParticipant(conversationID, requestingUserID); err != nil {
		return nil, domain.Transient("participant check", err)
	} else if !ok {
		c, err := s.db.GetConversation(conversationID)
		if err != nil {
			return nil, domain.Transient("get conversation", err)
		}
		if c == nil {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrForbidden
	}

	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	beforeCreatedAt, beforeID, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	msgs, err := s.db.ListMessagesPage(conversationID, beforeCreatedAt, beforeID, limit)
	if err != nil {
		return nil, domain.Transient("list messages", err)
	}

	next := ""
	if len(msgs) == limit {
		oldest := msgs[len(msgs)-1]
		next = encodeCursor(oldest.CreatedAt, oldest.ID)
	}

	// The store returns newest first; flip for display order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return &Page{Messages: msgs, NextCursor: next}, nil
}

// Delete soft-deletes a message. Only the original sender may delete;
// content stays stored but reads redact it.
func (s *Service) Delete(messageID int64, requestingUserID string) error {
	m, err := s.db.GetMessage(messageID)
	if err != nil {
		return domain.Transient("get message", err)
	}
	if m == nil {
		return domain.ErrNotFound
	}
	if m.SenderID == "" || m.SenderID != requestingUserID {
		return domain.ErrForbidden
	}
	if m.Deleted {
		return nil
	}
	if err := s.db.SoftDeleteMessage(messageID, s.now().UnixMilli()); err != nil {
		return domain.Transient("soft delete", err)
	}
	return nil
}

func (s *Service) publishCreated(m *store.Message) {
	s.bus.Publish(bus.Event{
		Kind: bus.KindMessageCreated,
		Key:  m.ConversationID,
		Payload: bus.MessageCreated{
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			SenderID:       m.SenderID,
			Preview:        truncate(m.Content, previewMaxLen),
			CreatedAt:      time.UnixMilli(m.CreatedAt),
		},
	})
}

// Cursors are "createdAt.id" over the keyset columns, opaque to clients.
func encodeCursor(createdAt, id int64) string {
	return strconv.FormatInt(createdAt, 10) + "." + strconv.FormatInt(id, 10)
}

func decodeCursor(cursor string) (createdAt, id int64, err error) {
	if cursor == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(cursor, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	createdAt, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	id, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	return createdAt, id, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
