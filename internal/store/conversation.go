package store

import (
	"database/sql"
	"fmt"
)

// CreateConversation inserts a conversation and its participant rows in
// one transaction. directKey must be empty for group conversations; for
// direct pairs it is the sorted "a|b" key backing the unique index, so a
// concurrent duplicate insert fails and the caller re-reads the winner.
func (db *DB) CreateConversation(c *Conversation, directKey string, participantIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var key any
	if directKey != "" {
		key = directKey
	}
	if _, err := tx.Exec(`
		INSERT INTO conversations (id, is_direct, direct_key, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.IsDirect, key, c.CreatedAt, c.LastActivityAt); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, userID := range participantIDs {
		if _, err := tx.Exec(`
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES (?, ?, ?)`,
			c.ID, userID, c.CreatedAt); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	return tx.Commit()
}

// FindDirectByKey returns the direct conversation for a sorted pair key,
// or nil if none exists.
func (db *DB) FindDirectByKey(directKey string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, is_direct, created_at, last_activity_at
		FROM conversations WHERE direct_key = ?`, directKey).
		Scan(&c.ID, &c.IsDirect, &c.CreatedAt, &c.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation returns a conversation by id, or nil if missing.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, is_direct, created_at, last_activity_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.IsDirect, &c.CreatedAt, &c.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListParticipants returns every participant row of a conversation.
func (db *DB) ListParticipants(conversationID string) ([]Participant, error) {
	rows, err := db.Query(`
		SELECT conversation_id, user_id, joined_at,
			COALESCE(last_read_message_id, 0), COALESCE(last_read_at, 0)
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parts []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.JoinedAt, &p.LastReadMessageID, &p.LastReadAt); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// GetParticipant returns the membership row for (conversation, user), or
// nil if the user is not a participant.
func (db *DB) GetParticipant(conversationID, userID string) (*Participant, error) {
	var p Participant
	err := db.QueryRow(`
		SELECT conversation_id, user_id, joined_at,
			COALESCE(last_read_message_id, 0), COALESCE(last_read_at, 0)
		FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?`, conversationID, userID).
		Scan(&p.ConversationID, &p.UserID, &p.JoinedAt, &p.LastReadMessageID, &p.LastReadAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// IsParticipant reports whether the user belongs to the conversation.
func (db *DB) IsParticipant(conversationID, userID string) (bool, error) {
	var one int
	err := db.QueryRow(`
		SELECT 1 FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?`, conversationID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListConversationSummaries returns the user's conversations sorted by
// last activity descending, each with a redacted-aware preview of its
// latest message.
func (db *DB) ListConversationSummaries(userID string) ([]ConversationSummary, error) {
	rows, err := db.Query(`
		SELECT c.id, c.is_direct, c.created_at, c.last_activity_at,
			COALESCE((
				SELECT CASE WHEN m.deleted_at IS NOT NULL THEN '' ELSE m.content END
				FROM direct_messages m
				WHERE m.conversation_id = c.id
				ORDER BY m.created_at DESC, m.id DESC LIMIT 1
			), ''),
			COALESCE((
				SELECT m.created_at FROM direct_messages m
				WHERE m.conversation_id = c.id
				ORDER BY m.created_at DESC, m.id DESC LIMIT 1
			), 0)
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.last_activity_at DESC, c.id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var summaries []ConversationSummary
	for rows.Next() {
		var s ConversationSummary
		if err := rows.Scan(&s.ID, &s.IsDirect, &s.CreatedAt, &s.LastActivityAt, &s.LastMessagePreview, &s.LastMessageAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// UpdateReadMarker advances the participant's read marker. The guarded
// UPDATE keeps markers monotonic: a regressive call matches no row and
// returns false, leaving the marker untouched.
func (db *DB) UpdateReadMarker(conversationID, userID string, messageID, readAt int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE conversation_participants
		SET last_read_message_id = ?, last_read_at = ?
		WHERE conversation_id = ? AND user_id = ?
			AND COALESCE(last_read_message_id, 0) < ?`,
		messageID, readAt, conversationID, userID, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
