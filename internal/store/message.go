package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
)

const messageCols = `
	id, conversation_id, COALESCE(sender_id, ''),
	CASE WHEN deleted_at IS NOT NULL THEN '' ELSE content END,
	COALESCE(reply_to_id, 0), COALESCE(attachments, ''),
	COALESCE(client_key, ''), created_at, COALESCE(edited_at, 0),
	deleted_at IS NOT NULL`

// InsertMessage appends a message and bumps the conversation's
// last_activity_at in the same transaction. The store assigns ID; the
// (created_at, id) pair is the conversation's total order.
func (db *DB) InsertMessage(m *Message) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sender, replyTo, attachments, clientKey any
	if m.SenderID != "" {
		sender = m.SenderID
	}
	if m.ReplyToID != 0 {
		replyTo = m.ReplyToID
	}
	if len(m.Attachments) > 0 {
		raw, err := json.Marshal(m.Attachments)
		if err != nil {
			return 0, fmt.Errorf("marshal attachments: %w", err)
		}
		attachments = string(raw)
	}
	if m.ClientKey != "" {
		clientKey = m.ClientKey
	}

	res, err := tx.Exec(`
		INSERT INTO direct_messages (conversation_id, sender_id, content, reply_to_id, attachments, client_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, sender, m.Content, replyTo, attachments, clientKey, m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE conversations
		SET last_activity_at = MAX(last_activity_at, ?)
		WHERE id = ?`, m.CreatedAt, m.ConversationID); err != nil {
		return 0, fmt.Errorf("bump last activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	m.ID = id
	return id, nil
}

// GetMessage returns a message by id, or nil if missing. Deleted message
// content is redacted in the query itself.
func (db *DB) GetMessage(id int64) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageCols+` FROM direct_messages WHERE id = ?`, id)
	return scanMessage(row)
}

// GetMessageByClientKey resolves an idempotency token within a
// conversation, or nil when the token has not been used.
func (db *DB) GetMessageByClientKey(conversationID, clientKey string) (*Message, error) {
	row := db.QueryRow(`
		SELECT `+messageCols+` FROM direct_messages
		WHERE conversation_id = ? AND client_key = ?`, conversationID, clientKey)
	return scanMessage(row)
}

// ListMessagesPage returns up to limit messages strictly older than the
// (beforeCreatedAt, beforeID) cursor, newest first. Pass zero cursor
// values for the latest page. Callers reverse the slice for
// oldest-to-newest display order.
func (db *DB) ListMessagesPage(conversationID string, beforeCreatedAt, beforeID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeCreatedAt <= 0 {
		beforeCreatedAt = math.MaxInt64
		beforeID = math.MaxInt64
	}
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM direct_messages
		WHERE conversation_id = ?
			AND (created_at < ? OR (created_at = ? AND id < ?))
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, beforeCreatedAt, beforeCreatedAt, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessageRows(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// SoftDeleteMessage marks a message deleted. Content stays in the row but
// every read path redacts it.
func (db *DB) SoftDeleteMessage(id, deletedAt int64) error {
	_, err := db.Exec(`
		UPDATE direct_messages SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL`, deletedAt, id)
	return err
}

// UnreadTotal counts, across all of the user's conversations, the
// messages newer than that participant's read marker, excluding the
// user's own messages and soft-deleted ones.
func (db *DB) UnreadTotal(userID string) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM direct_messages m
		JOIN conversation_participants p
			ON p.conversation_id = m.conversation_id AND p.user_id = ?
		WHERE (m.sender_id IS NULL OR m.sender_id != ?)
			AND m.deleted_at IS NULL
			AND m.id > COALESCE(p.last_read_message_id, 0)`,
		userID, userID).Scan(&count)
	return count, err
}

// UnreadByConversation returns the user's unread count per conversation.
// Conversations with zero unread are omitted.
func (db *DB) UnreadByConversation(userID string) (map[string]int, error) {
	rows, err := db.Query(`
		SELECT m.conversation_id, COUNT(*)
		FROM direct_messages m
		JOIN conversation_participants p
			ON p.conversation_id = m.conversation_id AND p.user_id = ?
		WHERE (m.sender_id IS NULL OR m.sender_id != ?)
			AND m.deleted_at IS NULL
			AND m.id > COALESCE(p.last_read_message_id, 0)
		GROUP BY m.conversation_id`,
		userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var conversationID string
		var n int
		if err := rows.Scan(&conversationID, &n); err != nil {
			return nil, err
		}
		counts[conversationID] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row *sql.Row) (*Message, error) {
	m, err := scanMessageRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func scanMessageRows(row rowScanner) (*Message, error) {
	var m Message
	var attachments string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content,
		&m.ReplyToID, &attachments, &m.ClientKey, &m.CreatedAt, &m.EditedAt, &m.Deleted); err != nil {
		return nil, err
	}
	if attachments != "" {
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return &m, nil
}
