package store

import "database/sql"

// UpsertPresence records a heartbeat or explicit offline signal. Rows are
// created on first heartbeat and updated forever after, never deleted.
func (db *DB) UpsertPresence(userID string, isOnline bool, heartbeatAt int64) error {
	_, err := db.Exec(`
		INSERT INTO presence (user_id, is_online, last_heartbeat_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			is_online = excluded.is_online,
			last_heartbeat_at = excluded.last_heartbeat_at`,
		userID, isOnline, heartbeatAt)
	return err
}

// GetPresence returns the user's presence row, or nil if the user has
// never sent a heartbeat.
func (db *DB) GetPresence(userID string) (*Presence, error) {
	var p Presence
	err := db.QueryRow(`
		SELECT user_id, is_online, last_heartbeat_at
		FROM presence WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.IsOnline, &p.LastHeartbeatAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
