package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

// CommitHigh records the outcome of a high-bucket decision atomically.
// post is inserted when its ID is zero and updated otherwise; a nil post
// means nothing was published. A non-zero batchID consumes that pending
// batch item in the same transaction.
func (db *DB) CommitHigh(post *PublishedRecord, entry AuditEntry, batchID int64) (int64, error) {
	var auditID int64
	err := db.inTx(func(tx *sql.Tx) error {
		if post != nil {
			if post.ID == 0 {
				id, err := insertPublished(tx, *post)
				if err != nil {
					return err
				}
				post.ID = id
			} else {
				at := entry.CreatedAt
				if post.UpdatedAt != nil {
					at = *post.UpdatedAt
				}
				if err := updatePublished(tx, post.ID, post.Content, post.SourceURLs, at); err != nil {
					return err
				}
			}
		}
		if batchID != 0 {
			if err := deletePendingBatch(tx, batchID); err != nil {
				return err
			}
		}
		id, err := insertAudit(tx, entry)
		if err != nil {
			return err
		}
		auditID = id
		return nil
	})
	return auditID, err
}

// CommitDigest inserts the digest publication and consumes its items together.
func (db *DB) CommitDigest(post PublishedRecord, itemIDs []int64, at time.Time) (int64, error) {
	var postID int64
	err := db.inTx(func(tx *sql.Tx) error {
		id, err := insertPublished(tx, post)
		if err != nil {
			return err
		}
		postID = id
		return markBatchProcessed(tx, itemIDs, at)
	})
	return postID, err
}

// MoveAuditToBatch converts an audit entry of the given bucket into a
// pending batch item carrying the same text and verdict.
func (db *DB) MoveAuditToBatch(auditID int64, bucket models.Bucket) (*BatchItem, error) {
	var item *BatchItem
	err := db.inTx(func(tx *sql.Tx) error {
		entry, err := getAudit(tx, auditID)
		if err != nil {
			return err
		}
		if entry.Bucket != bucket {
			return ErrNotFound
		}
		b := BatchItem{
			Source:     entry.Source,
			Permalink:  entry.Permalink,
			Text:       entry.Text,
			Verdict:    entry.Verdict,
			Score:      entry.Score,
			ClassifyMS: entry.ClassifyMS,
			ReceivedAt: entry.CreatedAt,
		}
		id, err := insertBatchItem(tx, b)
		if err != nil {
			return err
		}
		b.ID = id
		if _, err := tx.Exec("DELETE FROM audit_log WHERE id = ?", auditID); err != nil {
			return err
		}
		item = &b
		return nil
	})
	return item, err
}

// MoveBatchToAudit converts a pending batch item into an audit entry.
func (db *DB) MoveBatchToAudit(batchID int64, bucket models.Bucket, action string, at time.Time) (*AuditEntry, error) {
	var entry *AuditEntry
	err := db.inTx(func(tx *sql.Tx) error {
		item, err := getBatchItem(tx, batchID)
		if err != nil {
			return err
		}
		if item.Processed {
			return ErrNotFound
		}
		a := AuditEntry{
			Source:     item.Source,
			Permalink:  item.Permalink,
			Text:       item.Text,
			Bucket:     bucket,
			Score:      item.Score,
			Verdict:    item.Verdict,
			Action:     action,
			ClassifyMS: item.ClassifyMS,
			CreatedAt:  at,
		}
		id, err := insertAudit(tx, a)
		if err != nil {
			return err
		}
		a.ID = id
		if err := deletePendingBatch(tx, batchID); err != nil {
			return err
		}
		entry = &a
		return nil
	})
	return entry, err
}

// DeleteAudit removes one entry, which must belong to bucket.
func (db *DB) DeleteAudit(auditID int64, bucket models.Bucket) error {
	result, err := db.conn.Exec("DELETE FROM audit_log WHERE id = ? AND bucket = ?", auditID, string(bucket))
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func deletePendingBatch(tx *sql.Tx, id int64) error {
	result, err := tx.Exec("DELETE FROM batch_items WHERE id = ? AND processed = 0", id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
