package database

import (
	"database/sql"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

const queueColumns = `id, source, source_title, permalink, message_id, text, message_date,
	received_at, processing_started_at, processed, processed_at, error`

// InsertQueueRecord persists a new unprocessed record.
func (db *DB) InsertQueueRecord(id string, msg models.RawMessage, receivedAt time.Time) error {
	var title *string
	if msg.SourceTitle != "" {
		title = &msg.SourceTitle
	}
	_, err := db.conn.Exec(
		`INSERT INTO queue_records (id, source, source_title, permalink, message_id, text, message_date, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, msg.Source, title, msg.Permalink, msg.MessageID, msg.Text,
		formatTime(msg.Date), formatTime(receivedAt),
	)
	return err
}

// QueueRecordExistsSince reports whether permalink was enqueued at or after since.
func (db *DB) QueueRecordExistsSince(permalink string, since time.Time) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM queue_records WHERE permalink = ? AND received_at >= ?",
		permalink, formatTime(since),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkQueueStarted records that the consumer picked up a record.
func (db *DB) MarkQueueStarted(id string, at time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE queue_records SET processing_started_at = ? WHERE id = ?",
		formatTime(at), id,
	)
	return err
}

// MarkQueueProcessed completes a record. A non-nil errMsg marks it failed.
func (db *DB) MarkQueueProcessed(id string, at time.Time, errMsg *string) error {
	_, err := db.conn.Exec(
		"UPDATE queue_records SET processed = 1, processed_at = ?, error = ? WHERE id = ?",
		formatTime(at), errMsg, id,
	)
	return err
}

// UnprocessedQueueRecords returns every record not yet processed, oldest first.
func (db *DB) UnprocessedQueueRecords() ([]QueueRecord, error) {
	rows, err := db.conn.Query(
		"SELECT " + queueColumns + " FROM queue_records WHERE processed = 0 ORDER BY received_at ASC, rowid ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueueRecords(rows)
}

// GetQueueRecord returns a single record by id.
func (db *DB) GetQueueRecord(id string) (*QueueRecord, error) {
	rows, err := db.conn.Query("SELECT "+queueColumns+" FROM queue_records WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records, err := scanQueueRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

// GetQueueCounts returns aggregate counts over all queue records.
func (db *DB) GetQueueCounts() (*QueueCounts, error) {
	var c QueueCounts
	var pending, failed, processed *int
	err := db.conn.QueryRow(
		`SELECT
			COUNT(*),
			SUM(CASE WHEN processed = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN processed = 1 AND error IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN processed = 1 THEN 1 ELSE 0 END)
		FROM queue_records`,
	).Scan(&c.Total, &pending, &failed, &processed)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		c.Pending = *pending
	}
	if failed != nil {
		c.Failed = *failed
	}
	if processed != nil {
		c.Processed = *processed
	}
	return &c, nil
}

func scanQueueRecords(rows *sql.Rows) ([]QueueRecord, error) {
	var records []QueueRecord
	for rows.Next() {
		var r QueueRecord
		var title, startedAt, processedAt *string
		var msgDate, receivedAt string
		var processed int
		if err := rows.Scan(&r.ID, &r.Message.Source, &title, &r.Message.Permalink, &r.Message.MessageID,
			&r.Message.Text, &msgDate, &receivedAt, &startedAt, &processed, &processedAt, &r.Error); err != nil {
			return nil, err
		}
		if title != nil {
			r.Message.SourceTitle = *title
		}
		r.Message.Date = parseTime(msgDate)
		r.ReceivedAt = parseTime(receivedAt)
		r.Message.ReceivedAt = r.ReceivedAt
		r.ProcessingStartedAt = parseTimePtr(startedAt)
		r.Processed = processed != 0
		r.ProcessedAt = parseTimePtr(processedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}
