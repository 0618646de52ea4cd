package database

import (
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

const publishedColumns = "id, post_type, content, source_urls, message_ref, published_at, updated_at"

// InsertPublished records a new publication.
func (db *DB) InsertPublished(p PublishedRecord) (int64, error) {
	return insertPublished(db.conn, p)
}

func insertPublished(e execer, p PublishedRecord) (int64, error) {
	urls, err := json.Marshal(nonNil(p.SourceURLs))
	if err != nil {
		return 0, err
	}
	result, err := e.Exec(
		`INSERT INTO published_records (post_type, content, source_urls, message_ref, published_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.PostType, p.Content, string(urls), p.MessageRef, formatTime(p.PublishedAt),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// UpdatePublished replaces content and source URLs after a merge edit.
func (db *DB) UpdatePublished(id int64, content string, sourceURLs []string, at time.Time) error {
	return updatePublished(db.conn, id, content, sourceURLs, at)
}

func updatePublished(e execer, id int64, content string, sourceURLs []string, at time.Time) error {
	urls, err := json.Marshal(nonNil(sourceURLs))
	if err != nil {
		return err
	}
	result, err := e.Exec(
		"UPDATE published_records SET content = ?, source_urls = ?, updated_at = ? WHERE id = ?",
		content, string(urls), formatTime(at), id,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentHighPosts returns the newest high publications, newest first.
func (db *DB) RecentHighPosts(limit int) ([]PublishedRecord, error) {
	return db.queryPublished(
		sq.Select(publishedColumns).From("published_records").
			Where(sq.Eq{"post_type": models.PostTypeHigh}).
			OrderBy("published_at DESC", "id DESC").
			Limit(uint64(limit)),
	)
}

// PublishedSince returns publications at or after since, newest first.
func (db *DB) PublishedSince(since time.Time) ([]PublishedRecord, error) {
	return db.queryPublished(
		sq.Select(publishedColumns).From("published_records").
			Where(sq.GtOrEq{"published_at": formatTime(since)}).
			OrderBy("published_at DESC", "id DESC"),
	)
}

// GetPublished returns a single record by id.
func (db *DB) GetPublished(id int64) (*PublishedRecord, error) {
	records, err := db.queryPublished(
		sq.Select(publishedColumns).From("published_records").Where(sq.Eq{"id": id}),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

// CountPublished counts publications of a type.
func (db *DB) CountPublished(postType string) (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM published_records WHERE post_type = ?", postType).Scan(&n)
	return n, err
}

// DeletePublished removes a publication record.
func (db *DB) DeletePublished(id int64) error {
	result, err := db.conn.Exec("DELETE FROM published_records WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) queryPublished(q sq.SelectBuilder) ([]PublishedRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPublished(rows)
}

func scanPublished(rows *sql.Rows) ([]PublishedRecord, error) {
	var records []PublishedRecord
	for rows.Next() {
		var p PublishedRecord
		var urls, publishedAt string
		var updatedAt *string
		if err := rows.Scan(&p.ID, &p.PostType, &p.Content, &urls, &p.MessageRef, &publishedAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(urls), &p.SourceURLs); err != nil {
			p.SourceURLs = nil
		}
		p.PublishedAt = parseTime(publishedAt)
		p.UpdatedAt = parseTimePtr(updatedAt)
		records = append(records, p)
	}
	return records, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
