package database

import (
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const batchColumns = "id, source, permalink, text, verdict, score, classify_ms, received_at, processed, processed_at"

// InsertBatchItem adds a pending medium-bucket item.
func (db *DB) InsertBatchItem(item BatchItem) (int64, error) {
	return insertBatchItem(db.conn, item)
}

func insertBatchItem(e execer, item BatchItem) (int64, error) {
	verdict, err := json.Marshal(item.Verdict)
	if err != nil {
		return 0, err
	}
	result, err := e.Exec(
		`INSERT INTO batch_items (source, permalink, text, verdict, score, classify_ms, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.Source, item.Permalink, item.Text, string(verdict), item.Score, item.ClassifyMS,
		formatTime(item.ReceivedAt),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// PendingBatchItems returns unprocessed items oldest first. limit <= 0 means no cap.
func (db *DB) PendingBatchItems(limit int) ([]BatchItem, error) {
	q := sq.Select(batchColumns).From("batch_items").
		Where(sq.Eq{"processed": 0}).
		OrderBy("received_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatchItems(rows)
}

// GetBatchItem returns a single batch item by id.
func (db *DB) GetBatchItem(id int64) (*BatchItem, error) {
	return getBatchItem(db.conn, id)
}

func getBatchItem(e execer, id int64) (*BatchItem, error) {
	rows, err := e.Query("SELECT "+batchColumns+" FROM batch_items WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, err := scanBatchItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

// MarkBatchProcessed flags every id as consumed in one statement.
func (db *DB) MarkBatchProcessed(ids []int64, at time.Time) error {
	return markBatchProcessed(db.conn, ids, at)
}

func markBatchProcessed(e execer, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sq.Update("batch_items").
		Set("processed", 1).
		Set("processed_at", formatTime(at)).
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = e.Exec(query, args...)
	return err
}

// ClearPendingBatch deletes every unprocessed item and returns how many were removed.
func (db *DB) ClearPendingBatch() (int64, error) {
	result, err := db.conn.Exec("DELETE FROM batch_items WHERE processed = 0")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanBatchItems(rows *sql.Rows) ([]BatchItem, error) {
	var items []BatchItem
	for rows.Next() {
		var b BatchItem
		var verdict, receivedAt string
		var processedAt *string
		var processed int
		if err := rows.Scan(&b.ID, &b.Source, &b.Permalink, &b.Text, &verdict, &b.Score,
			&b.ClassifyMS, &receivedAt, &processed, &processedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(verdict), &b.Verdict); err != nil {
			return nil, err
		}
		b.ReceivedAt = parseTime(receivedAt)
		b.Processed = processed != 0
		b.ProcessedAt = parseTimePtr(processedAt)
		items = append(items, b)
	}
	return items, rows.Err()
}
