package database

import (
	"database/sql"
	"time"
)

// IncrementRate bumps the counter of the hour window containing at and
// returns the new count.
func (db *DB) IncrementRate(at time.Time) (int, error) {
	window := formatTime(HourWindow(at))
	var count int
	err := db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO rate_windows (window_start, count) VALUES (?, 1)
			ON CONFLICT(window_start) DO UPDATE SET count = count + 1`,
			window,
		); err != nil {
			return err
		}
		return tx.QueryRow("SELECT count FROM rate_windows WHERE window_start = ?", window).Scan(&count)
	})
	return count, err
}

// RateCount returns the publication count of the hour window containing at.
func (db *DB) RateCount(at time.Time) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COALESCE(MAX(count), 0) FROM rate_windows WHERE window_start = ?",
		formatTime(HourWindow(at)),
	).Scan(&count)
	return count, err
}
