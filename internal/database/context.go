package database

import (
	"database/sql"
	"errors"
	"time"
)

// GetContext returns the rolling context summary, or "" if none has been set.
func (db *DB) GetContext() (string, error) {
	var content string
	err := db.conn.QueryRow("SELECT content FROM rolling_context WHERE id = 1").Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return content, err
}

// GetContextUpdatedAt returns when the summary was last written.
func (db *DB) GetContextUpdatedAt() (*time.Time, error) {
	var updatedAt string
	err := db.conn.QueryRow("SELECT updated_at FROM rolling_context WHERE id = 1").Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := parseTime(updatedAt)
	return &t, nil
}

// SetContext replaces the singleton summary in one statement.
func (db *DB) SetContext(content string, at time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO rolling_context (id, content, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		content, formatTime(at),
	)
	return err
}
