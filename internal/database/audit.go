package database

import (
	"database/sql"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

const auditColumns = "id, source, permalink, text, bucket, score, verdict, action, classify_ms, created_at"

// InsertAudit appends an audit entry.
func (db *DB) InsertAudit(entry AuditEntry) (int64, error) {
	return insertAudit(db.conn, entry)
}

func insertAudit(e execer, entry AuditEntry) (int64, error) {
	verdict, err := json.Marshal(entry.Verdict)
	if err != nil {
		return 0, err
	}
	result, err := e.Exec(
		`INSERT INTO audit_log (source, permalink, text, bucket, score, verdict, action, classify_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Source, entry.Permalink, entry.Text, string(entry.Bucket), entry.Score,
		string(verdict), entry.Action, entry.ClassifyMS, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetAudit returns a single audit entry by id.
func (db *DB) GetAudit(id int64) (*AuditEntry, error) {
	return getAudit(db.conn, id)
}

func getAudit(e execer, id int64) (*AuditEntry, error) {
	rows, err := e.Query("SELECT "+auditColumns+" FROM audit_log WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := scanAudit(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

// ListAudit returns the newest entries, optionally filtered by bucket.
func (db *DB) ListAudit(bucket models.Bucket, limit int) ([]AuditEntry, error) {
	q := sq.Select(auditColumns).From("audit_log").OrderBy("created_at DESC", "id DESC")
	if bucket != "" {
		q = q.Where(sq.Eq{"bucket": string(bucket)})
	}
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
	return scanAudit(rows)
}

// CountAudit counts entries matching permalink.
func (db *DB) CountAudit(permalink string) (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM audit_log WHERE permalink = ?", permalink).Scan(&n)
	return n, err
}

// DeleteAuditByBucket removes all entries of a bucket.
func (db *DB) DeleteAuditByBucket(bucket models.Bucket) (int64, error) {
	result, err := db.conn.Exec("DELETE FROM audit_log WHERE bucket = ?", string(bucket))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanAudit(rows *sql.Rows) ([]AuditEntry, error) {
	var entries []AuditEntry
	for rows.Next() {
		var a AuditEntry
		var bucket, verdict, createdAt string
		if err := rows.Scan(&a.ID, &a.Source, &a.Permalink, &a.Text, &bucket, &a.Score,
			&verdict, &a.Action, &a.ClassifyMS, &createdAt); err != nil {
			return nil, err
		}
		a.Bucket = models.Bucket(bucket)
		if err := json.Unmarshal([]byte(verdict), &a.Verdict); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
