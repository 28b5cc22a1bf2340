package bus

import "time"

// Event kinds published by the messaging core. Subscribers filter by
// namespace prefix, e.g. "message." or "typing.".
const (
	KindMessageCreated  = "message.created"
	KindTypingChanged   = "typing.changed"
	KindPresenceChanged = "presence.changed"
	KindReadUpdated     = "read.updated"
)

// Event is a domain event published on the bus. Key carries the fan-out
// key (conversation id for conversation-scoped kinds, user id for
// presence) so adapters can route without inspecting the payload.
type Event struct {
	Kind      string
	Key       string
	Timestamp time.Time
	Payload   any
}

// MessageCreated is the payload for message.created events.
type MessageCreated struct {
	ConversationID string
	MessageID      int64
	SenderID       string // empty for system messages
	Preview        string
	CreatedAt      time.Time
}

// TypingChanged is the payload for typing.changed events.
type TypingChanged struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

// PresenceChanged is the payload for presence.changed events.
type PresenceChanged struct {
	UserID   string
	IsOnline bool
}

// ReadUpdated is the payload for read.updated events.
type ReadUpdated struct {
	ConversationID string
	UserID         string
	UptoMessageID  int64
}
