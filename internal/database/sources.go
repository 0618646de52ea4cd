package database

import (
	"database/sql"
	"strings"
	"time"
)

// NormalizeSource strips the leading @ and lowercases channel usernames.
// Feed URLs are returned unchanged.
func NormalizeSource(username string) string {
	username = strings.TrimSpace(username)
	if strings.HasPrefix(username, "http://") || strings.HasPrefix(username, "https://") {
		return username
	}
	return strings.ToLower(strings.TrimPrefix(username, "@"))
}

// UpsertSource adds a source or reactivates it, refreshing title and member count.
func (db *DB) UpsertSource(username string, title *string, memberCount int, at time.Time) (int64, error) {
	username = NormalizeSource(username)
	_, err := db.conn.Exec(
		`INSERT INTO source_subscriptions (username, title, member_count, is_active, added_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(username) DO UPDATE SET
			title = COALESCE(excluded.title, source_subscriptions.title),
			member_count = excluded.member_count,
			is_active = 1`,
		username, title, memberCount, formatTime(at),
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.conn.QueryRow("SELECT id FROM source_subscriptions WHERE username = ?", username).Scan(&id)
	return id, err
}

// SeedSources inserts usernames that are not yet known, leaving existing rows untouched.
func (db *DB) SeedSources(usernames []string, at time.Time) error {
	return db.inTx(func(tx *sql.Tx) error {
		for _, u := range usernames {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO source_subscriptions (username, is_active, added_at) VALUES (?, 1, ?)`,
				NormalizeSource(u), formatTime(at),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAllSources returns every source.
func (db *DB) GetAllSources() ([]Source, error) {
	return db.querySources(`SELECT id, username, title, member_count, is_active, added_at, last_seen_at
		FROM source_subscriptions ORDER BY added_at ASC, id ASC`)
}

// GetActiveSources returns only active sources.
func (db *DB) GetActiveSources() ([]Source, error) {
	return db.querySources(`SELECT id, username, title, member_count, is_active, added_at, last_seen_at
		FROM source_subscriptions WHERE is_active = 1 ORDER BY added_at ASC, id ASC`)
}

// GetSourceByUsername returns one source.
func (db *DB) GetSourceByUsername(username string) (*Source, error) {
	sources, err := db.querySources(`SELECT id, username, title, member_count, is_active, added_at, last_seen_at
		FROM source_subscriptions WHERE username = ?`, NormalizeSource(username))
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, ErrNotFound
	}
	return &sources[0], nil
}

// ToggleSource flips the active flag.
func (db *DB) ToggleSource(username string) error {
	result, err := db.conn.Exec(
		"UPDATE source_subscriptions SET is_active = NOT is_active WHERE username = ?",
		NormalizeSource(username),
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSource removes a source.
func (db *DB) DeleteSource(username string) error {
	result, err := db.conn.Exec("DELETE FROM source_subscriptions WHERE username = ?", NormalizeSource(username))
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSource records that a message from username was just seen.
func (db *DB) TouchSource(username string, at time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE source_subscriptions SET last_seen_at = ? WHERE username = ?",
		formatTime(at), NormalizeSource(username),
	)
	return err
}

func (db *DB) querySources(query string, args ...any) ([]Source, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		var active int
		var addedAt string
		var lastSeen *string
		if err := rows.Scan(&s.ID, &s.Username, &s.Title, &s.MemberCount, &active, &addedAt, &lastSeen); err != nil {
			return nil, err
		}
		s.IsActive = active != 0
		s.AddedAt = parseTime(addedAt)
		s.LastSeenAt = parseTimePtr(lastSeen)
		sources = append(sources, s)
	}
	return sources, rows.Err()
}
