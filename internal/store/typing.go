package store

import "database/sql"

// UpsertTyping writes the (conversation, user) typing row. Each user
// exclusively writes their own rows, so last-writer-wins is safe.
func (db *DB) UpsertTyping(conversationID, userID string, isTyping bool, expiresAt int64) error {
	_, err := db.Exec(`
		INSERT INTO typing_state (conversation_id, user_id, is_typing, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET
			is_typing = excluded.is_typing,
			expires_at = excluded.expires_at`,
		conversationID, userID, isTyping, expiresAt)
	return err
}

// GetTyping returns the persisted typing row, or nil if the user never
// typed in the conversation. Callers must still check expires_at; expired
// rows are not swept, staleness is computed at read time.
func (db *DB) GetTyping(conversationID, userID string) (*TypingState, error) {
	var t TypingState
	err := db.QueryRow(`
		SELECT conversation_id, user_id, is_typing, expires_at
		FROM typing_state
		WHERE conversation_id = ? AND user_id = ?`, conversationID, userID).
		Scan(&t.ConversationID, &t.UserID, &t.IsTyping, &t.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
