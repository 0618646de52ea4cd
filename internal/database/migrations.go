package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS queue_records (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    source_title TEXT,
    permalink TEXT NOT NULL,
    message_id INTEGER DEFAULT 0,
    text TEXT NOT NULL,
    message_date TEXT NOT NULL,
    received_at TEXT NOT NULL,
    processing_started_at TEXT,
    processed INTEGER DEFAULT 0,
    processed_at TEXT,
    error TEXT
);

CREATE TABLE IF NOT EXISTS batch_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    permalink TEXT NOT NULL,
    text TEXT NOT NULL,
    verdict TEXT NOT NULL,
    score INTEGER DEFAULT 0,
    classify_ms INTEGER DEFAULT 0,
    received_at TEXT NOT NULL,
    processed INTEGER DEFAULT 0,
    processed_at TEXT
);

CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    permalink TEXT NOT NULL,
    text TEXT NOT NULL,
    bucket TEXT NOT NULL CHECK(bucket IN ('high', 'medium', 'low')),
    score INTEGER DEFAULT 0,
    verdict TEXT NOT NULL,
    action TEXT NOT NULL,
    classify_ms INTEGER DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS published_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    post_type TEXT NOT NULL CHECK(post_type IN ('high', 'batch_digest')),
    content TEXT NOT NULL,
    source_urls TEXT NOT NULL,
    message_ref INTEGER,
    published_at TEXT NOT NULL,
    updated_at TEXT
);

CREATE TABLE IF NOT EXISTS rolling_context (
    id INTEGER PRIMARY KEY CHECK(id = 1),
    content TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_permalink ON queue_records(permalink, received_at);
CREATE INDEX IF NOT EXISTS idx_queue_pending ON queue_records(processed, received_at);
CREATE INDEX IF NOT EXISTS idx_batch_pending ON batch_items(processed, received_at);
CREATE INDEX IF NOT EXISTS idx_audit_bucket ON audit_log(bucket, created_at);
CREATE INDEX IF NOT EXISTS idx_published_type ON published_records(post_type, published_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "source subscriptions and rate windows",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS source_subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    title TEXT,
    member_count INTEGER DEFAULT 0,
    is_active INTEGER DEFAULT 1,
    added_at TEXT NOT NULL,
    last_seen_at TEXT
);

CREATE TABLE IF NOT EXISTS rate_windows (
    window_start TEXT PRIMARY KEY,
    count INTEGER NOT NULL DEFAULT 0
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
