// Package digest drains medium-bucket items into one composed publication
// per scheduling window.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/gateway"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/judge"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

// ErrFlushInProgress is returned when a flush overlaps another one.
var ErrFlushInProgress = errors.New("digest flush already in progress")

// Result describes one flush. Items is zero when nothing was pending.
type Result struct {
	Items      int    `json:"items"`
	PostID     int64  `json:"post_id,omitempty"`
	MessageRef int64  `json:"message_ref,omitempty"`
	Window     string `json:"window"`
}

// Store is the part of the database a flush reads and writes.
type Store interface {
	PendingBatchItems(limit int) ([]database.BatchItem, error)
	GetContext() (string, error)
	CommitDigest(post database.PublishedRecord, itemIDs []int64, at time.Time) (int64, error)
	MarkBatchProcessed(ids []int64, at time.Time) error
}

type Flusher struct {
	db       Store
	judge    judge.Service
	pub      gateway.Publisher
	maxItems int
	log      *slog.Logger
	now      func() time.Time

	// mu allows at most one flush at a time.
	mu sync.Mutex
	// batchMu is held from loading pending items until they are consumed.
	// Changes to pending items outside a flush take it through Exclusive.
	batchMu sync.Mutex
}

func NewFlusher(db Store, j judge.Service, pub gateway.Publisher, maxItems int, logger *slog.Logger) *Flusher {
	if maxItems <= 0 {
		maxItems = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{db: db, judge: j, pub: pub, maxItems: maxItems, log: logger.With("component", "digest"), now: time.Now}
}

// Flush composes and publishes one digest of the pending items. Items are
// marked processed only after the digest is published; on any failure they
// stay pending for the next run.
func (f *Flusher) Flush(ctx context.Context, w Window) (*Result, error) {
	if !f.mu.TryLock() {
		return nil, ErrFlushInProgress
	}
	defer f.mu.Unlock()
	f.batchMu.Lock()
	defer f.batchMu.Unlock()

	res := &Result{Window: w.Label()}
	items, err := f.db.PendingBatchItems(f.maxItems)
	if err != nil {
		return nil, fmt.Errorf("loading pending items: %w", err)
	}
	if len(items) == 0 {
		f.log.Info("no pending items, skipping digest", "window", res.Window)
		return res, nil
	}

	brief, err := f.db.GetContext()
	if err != nil {
		return nil, fmt.Errorf("reading context: %w", err)
	}

	inputs := make([]judge.DigestItem, len(items))
	ids := make([]int64, len(items))
	var urls []string
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		inputs[i] = judge.DigestItem{Source: it.Source, Permalink: it.Permalink, Text: it.Text, KeyPoints: it.Verdict.KeyPoints}
		ids[i] = it.ID
		if !seen[it.Permalink] {
			seen[it.Permalink] = true
			urls = append(urls, it.Permalink)
		}
	}

	body, err := f.judge.Compose(ctx, judge.ModeDigest, judge.ComposeInput{
		Context:     brief,
		Items:       inputs,
		WindowLabel: res.Window,
	})
	if err != nil {
		return nil, fmt.Errorf("composing digest: %w", err)
	}

	ref, err := f.pub.Publish(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("publishing digest: %w", err)
	}

	now := f.now()
	postID, err := f.db.CommitDigest(database.PublishedRecord{
		PostType:    models.PostTypeBatchDigest,
		Content:     body,
		SourceURLs:  urls,
		MessageRef:  &ref,
		PublishedAt: now,
	}, ids, now)
	if err != nil {
		// The digest is already out; consuming the items keeps the next
		// firing from publishing them again.
		f.log.Error("digest published but not recorded",
			"window", res.Window, "message_ref", ref, "items", len(ids), "error", err)
		if mErr := f.db.MarkBatchProcessed(ids, now); mErr != nil {
			f.log.Error("marking digest items processed", "message_ref", ref, "error", mErr)
		}
		return nil, fmt.Errorf("recording digest %d: %w", ref, err)
	}

	res.Items = len(items)
	res.PostID = postID
	res.MessageRef = ref
	f.log.Info("digest published", "window", res.Window, "items", res.Items, "post_id", postID)
	return res, nil
}

// Exclusive runs fn while no flush holds the pending items. It returns
// ErrFlushInProgress without running fn if a flush is under way. A flush
// that starts while fn runs waits for it.
func (f *Flusher) Exclusive(fn func() error) error {
	if !f.batchMu.TryLock() {
		return ErrFlushInProgress
	}
	defer f.batchMu.Unlock()
	return fn()
}
