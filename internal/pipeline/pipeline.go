// Package pipeline classifies dequeued messages and routes each verdict
// to its terminal action.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/judge"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

// Pipeline is the queue's Processor: classify with the rolling context,
// then route.
type Pipeline struct {
	db     *database.DB
	judge  judge.Service
	merger *Merger
	log    *slog.Logger
	now    func() time.Time
}

func New(db *database.DB, j judge.Service, merger *Merger, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		db:     db,
		judge:  j,
		merger: merger,
		log:    logger.With("component", "pipeline"),
		now:    time.Now,
	}
}

// Process classifies msg and routes the verdict. A classification failure
// is returned without writing any audit entry or batch item.
func (p *Pipeline) Process(ctx context.Context, msg models.RawMessage) error {
	brief, err := p.db.GetContext()
	if err != nil {
		return fmt.Errorf("reading context: %w", err)
	}

	start := p.now()
	verdict, err := p.judge.Classify(ctx, judge.ClassifyInput{
		Text:      msg.Text,
		Source:    msg.Source,
		Permalink: msg.Permalink,
		Context:   brief,
	})
	elapsed := p.now().Sub(start)
	if err != nil {
		p.log.Error("classification failed", "permalink", msg.Permalink, "error", err)
		return fmt.Errorf("classification failed: %w", err)
	}

	p.log.Info("message classified",
		"permalink", msg.Permalink,
		"bucket", verdict.Bucket,
		"reason", verdict.Rationale,
		"took_ms", elapsed.Milliseconds(),
	)
	return p.Route(ctx, msg, *verdict, brief, elapsed)
}

// Route performs the terminal action for one verdict. Exactly one audit
// entry or one batch item is written.
func (p *Pipeline) Route(ctx context.Context, msg models.RawMessage, v models.Verdict, brief string, classifyTime time.Duration) error {
	bucket, ok := models.ParseBucket(string(v.Bucket))
	if !ok {
		p.log.Warn("unrecognized bucket, treating as low", "bucket", v.Bucket, "permalink", msg.Permalink)
	}
	v.Bucket = bucket

	switch bucket {
	case models.BucketHigh:
		return p.routeHigh(ctx, msg, v, brief, classifyTime)
	case models.BucketMedium:
		_, err := p.db.InsertBatchItem(database.BatchItem{
			Source:     msg.Source,
			Permalink:  msg.Permalink,
			Text:       msg.Text,
			Verdict:    v,
			ClassifyMS: classifyTime.Milliseconds(),
			ReceivedAt: p.now(),
		})
		if err != nil {
			return fmt.Errorf("queueing medium item: %w", err)
		}
		p.log.Info("queued for digest", "permalink", msg.Permalink)
		return nil
	default:
		_, err := p.db.InsertAudit(p.auditEntry(msg, v, models.ActionDiscardedLow, classifyTime))
		if err != nil {
			return fmt.Errorf("recording low item: %w", err)
		}
		return nil
	}
}

// routeHigh publishes or merges, then records the publication and the audit
// entry together. A failed post is audited as post_failed and the failure
// is still returned.
func (p *Pipeline) routeHigh(ctx context.Context, msg models.RawMessage, v models.Verdict, brief string, classifyTime time.Duration) error {
	var recordErr error
	out, pubErr := p.merger.Commit(ctx, Item{
		Source:    msg.Source,
		Permalink: msg.Permalink,
		Text:      msg.Text,
		Verdict:   v,
	}, brief, func(out *Outcome) error {
		var post *database.PublishedRecord
		action := models.ActionPostFailed
		if out != nil {
			post = &out.Post
			action = models.ActionPostedHigh
		}
		_, recordErr = p.db.CommitHigh(post, p.auditEntry(msg, v, action, classifyTime), 0)
		return recordErr
	})
	if recordErr != nil {
		return fmt.Errorf("recording high item: %w", recordErr)
	}

	if pubErr != nil {
		p.log.Error("high item not published", "permalink", msg.Permalink, "error", pubErr)
		return pubErr
	}
	if out.Merged {
		p.log.Info("merged into existing post", "permalink", msg.Permalink, "post_id", out.Post.ID)
	} else {
		p.log.Info("published high item", "permalink", msg.Permalink, "post_id", out.Post.ID)
	}
	return nil
}

func (p *Pipeline) auditEntry(msg models.RawMessage, v models.Verdict, action string, classifyTime time.Duration) database.AuditEntry {
	return database.AuditEntry{
		Source:     msg.Source,
		Permalink:  msg.Permalink,
		Text:       msg.Text,
		Bucket:     v.Bucket,
		Verdict:    v,
		Action:     action,
		ClassifyMS: classifyTime.Milliseconds(),
		CreatedAt:  p.now(),
	}
}
