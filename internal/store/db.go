// Package store is the authoritative data component: conversations,
// participants, the append-only message log, presence rows, and typing
// rows all live in a single SQLite database owned by the daemon.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the daemon-owned messaging database.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL mode, a busy timeout, and
// foreign keys enforced.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// IsConstraint reports whether err is a SQLite constraint violation,
// e.g. a unique-index conflict lost to a concurrent writer.
func IsConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
