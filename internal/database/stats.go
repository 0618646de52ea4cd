package database

import (
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

// GetDailyStats counts decisions at or after since, usually the start of today.
// Medium counts pending batch items received since then, since medium
// decisions are recorded as batch items rather than audit entries.
func (db *DB) GetDailyStats(since time.Time) (*DailyStats, error) {
	s := &DailyStats{}
	cutoff := formatTime(since)

	var high, low *int
	if err := db.conn.QueryRow(
		`SELECT
			SUM(CASE WHEN bucket = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN bucket = ? THEN 1 ELSE 0 END)
		FROM audit_log WHERE created_at >= ?`,
		string(models.BucketHigh), string(models.BucketLow), cutoff,
	).Scan(&high, &low); err != nil {
		return nil, err
	}
	if high != nil {
		s.High = *high
	}
	if low != nil {
		s.Low = *low
	}

	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM batch_items WHERE received_at >= ?", cutoff,
	).Scan(&s.Medium); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM batch_items WHERE processed = 0",
	).Scan(&s.PendingBatch); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM published_records WHERE published_at >= ?", cutoff,
	).Scan(&s.Published); err != nil {
		return nil, err
	}
	return s, nil
}
