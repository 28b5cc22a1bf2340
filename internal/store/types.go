package store

// Conversation is a participant set sharing an ordered message log.
// Timestamps are unix milliseconds throughout the store.
type Conversation struct {
	ID             string
	IsDirect       bool
	CreatedAt      int64
	LastActivityAt int64
}

// Participant is a (conversation, user) membership row. A zero
// LastReadMessageID means the user has never read the conversation.
type Participant struct {
	ConversationID    string
	UserID            string
	JoinedAt          int64
	LastReadMessageID int64
	LastReadAt        int64
}

// Message is one entry in a conversation's append-only log. SenderID is
// empty for system messages. Content is redacted (empty) when Deleted.
type Message struct {
	ID             int64
	ConversationID string
	SenderID       string
	Content        string
	ReplyToID      int64
	Attachments    []string
	ClientKey      string
	CreatedAt      int64
	EditedAt       int64
	Deleted        bool
}

// ConversationSummary is a conversation with list-view fields.
type ConversationSummary struct {
	Conversation
	LastMessagePreview string
	LastMessageAt      int64
	UnreadCount        int
}

// Presence is the per-user heartbeat row. Staleness is derived at read
// time, never stored.
type Presence struct {
	UserID          string
	IsOnline        bool
	LastHeartbeatAt int64
}

// TypingState is the persisted (conversation, user) typing row.
type TypingState struct {
	ConversationID string
	UserID         string
	IsTyping       bool
	ExpiresAt      int64
}
