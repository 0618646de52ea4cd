// Package override is the operator surface: manual reclassification of
// items and on-demand maintenance actions. Every operation returns a
// Result instead of an error so callers can render it directly.
package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/brief"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/digest"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/gateway"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/pipeline"
)

// Result is the structured outcome of an operator action.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// DigestTrigger runs a manual digest flush.
type DigestTrigger interface {
	Trigger(ctx context.Context) (*digest.Result, error)
}

// BatchGuard serializes changes to pending digest items with a flush.
type BatchGuard interface {
	Exclusive(fn func() error) error
}

// Enqueuer accepts replayed messages.
type Enqueuer interface {
	Enqueue(msg models.RawMessage) (bool, error)
}

type Deps struct {
	DB      *database.DB
	Merger  *pipeline.Merger
	Digest  DigestTrigger
	Batch   BatchGuard
	Brief   *brief.Maintainer
	Out     gateway.Publisher
	History gateway.History
	Queue   Enqueuer
}

type Surface struct {
	Deps
	log *slog.Logger
	now func() time.Time
}

func New(deps Deps, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surface{Deps: deps, log: logger.With("component", "override"), now: time.Now}
}

// Promote moves an item one bucket up: low to medium re-queues it for the
// digest, medium to high publishes it now.
func (s *Surface) Promote(ctx context.Context, id int64, from models.Bucket) Result {
	switch from {
	case models.BucketLow:
		item, err := s.DB.MoveAuditToBatch(id, models.BucketLow)
		if err != nil {
			return s.storeFailure("promote", id, err)
		}
		s.log.Info("override applied", "action", models.ActionPromotedToMedium, "id", id, "batch_id", item.ID)
		return ok("Promoted to medium; queued for the next digest")
	case models.BucketMedium:
		return s.withBatch(func() Result { return s.promoteToHigh(ctx, id) })
	case models.BucketHigh:
		return fail("item is already high")
	default:
		return fail("invalid bucket %q", from)
	}
}

func (s *Surface) promoteToHigh(ctx context.Context, id int64) Result {
	item, err := s.DB.GetBatchItem(id)
	if err != nil {
		return s.storeFailure("promote", id, err)
	}
	if item.Processed {
		return fail("item %d was already included in a digest", id)
	}

	current, err := s.DB.GetContext()
	if err != nil {
		return fail("reading context: %v", err)
	}
	v := item.Verdict
	v.Bucket = models.BucketHigh

	entry := database.AuditEntry{
		Source:     item.Source,
		Permalink:  item.Permalink,
		Text:       item.Text,
		Bucket:     models.BucketHigh,
		Score:      item.Score,
		Verdict:    v,
		Action:     models.ActionPromotedAndPosted,
		ClassifyMS: item.ClassifyMS,
		CreatedAt:  s.now(),
	}
	var recordErr error
	out, err := s.Merger.Commit(ctx, pipeline.Item{
		Source:    item.Source,
		Permalink: item.Permalink,
		Text:      item.Text,
		Verdict:   v,
	}, current, func(out *pipeline.Outcome) error {
		if out == nil {
			return nil
		}
		_, recordErr = s.DB.CommitHigh(&out.Post, entry, id)
		return recordErr
	})
	if recordErr != nil {
		s.log.Error("promotion published but not recorded", "id", id, "error", recordErr)
		return fail("published, but recording failed: %v", recordErr)
	}
	if err != nil {
		s.log.Error("promotion publish failed", "id", id, "error", err)
		return fail("publish failed: %v", err)
	}

	s.log.Info("override applied", "action", models.ActionPromotedAndPosted, "id", id, "merged", out.Merged)
	if out.Merged {
		return ok("Promoted to high and merged into post %d", out.Post.ID)
	}
	return ok("Promoted to high and published")
}

// Demote moves an item one bucket down. Demoting a high item does not
// retract what was published; demoting a low item deletes it.
func (s *Surface) Demote(_ context.Context, id int64, from models.Bucket) Result {
	switch from {
	case models.BucketHigh:
		item, err := s.DB.MoveAuditToBatch(id, models.BucketHigh)
		if err != nil {
			return s.storeFailure("demote", id, err)
		}
		s.log.Info("override applied", "action", models.ActionDemotedToMedium, "id", id, "batch_id", item.ID)
		return ok("Demoted to medium; the published post is unchanged")
	case models.BucketMedium:
		return s.withBatch(func() Result {
			entry, err := s.DB.MoveBatchToAudit(id, models.BucketLow, models.ActionDemotedToLow, s.now())
			if err != nil {
				return s.storeFailure("demote", id, err)
			}
			s.log.Info("override applied", "action", models.ActionDemotedToLow, "id", id, "audit_id", entry.ID)
			return ok("Demoted to low")
		})
	case models.BucketLow:
		if err := s.DB.DeleteAudit(id, models.BucketLow); err != nil {
			return s.storeFailure("demote", id, err)
		}
		s.log.Info("override applied", "action", "removed", "id", id)
		return ok("Removed")
	default:
		return fail("invalid bucket %q", from)
	}
}

func (s *Surface) TriggerFlush(ctx context.Context) Result {
	res, err := s.Digest.Trigger(ctx)
	if errors.Is(err, digest.ErrFlushInProgress) {
		return fail("a digest is already being published")
	}
	if err != nil {
		return fail("digest failed: %v", err)
	}
	if res.Items == 0 {
		return ok("Nothing to flush")
	}
	return ok("Published digest of %d items for %s", res.Items, res.Window)
}

func (s *Surface) ReinitializeContext(ctx context.Context) Result {
	sum, err := s.Brief.Reinitialize(ctx)
	if err != nil {
		return fail("initialization failed: %v", err)
	}
	if !sum.Replaced {
		return ok("%s", sum.Content)
	}
	msg := fmt.Sprintf("Context rebuilt from %d messages across %d sources", sum.Messages, sum.Sources)
	if len(sum.Failed) > 0 {
		msg += fmt.Sprintf(" (%d sources failed)", len(sum.Failed))
	}
	return ok("%s", msg)
}

func (s *Surface) SetContext(text string) Result {
	if err := s.Brief.Set(text); err != nil {
		return fail("%v", err)
	}
	return ok("Context updated")
}

func (s *Surface) MergeContext(ctx context.Context, event string) Result {
	merged, err := s.Brief.Merge(ctx, event)
	if err != nil {
		return fail("%v", err)
	}
	return ok("Context updated (%d characters)", len([]rune(merged)))
}

// ClearBatch deletes every pending digest item.
func (s *Surface) ClearBatch() Result {
	return s.withBatch(func() Result {
		n, err := s.DB.ClearPendingBatch()
		if err != nil {
			return fail("clearing batch: %v", err)
		}
		return ok("Cleared %d pending items", n)
	})
}

// withBatch runs fn outside any digest flush, so a pending item is never
// both digested and moved.
func (s *Surface) withBatch(fn func() Result) Result {
	if s.Batch == nil {
		return fn()
	}
	var res Result
	err := s.Batch.Exclusive(func() error {
		res = fn()
		return nil
	})
	if errors.Is(err, digest.ErrFlushInProgress) {
		return fail("a digest is being published; try again shortly")
	}
	if err != nil {
		return fail("%v", err)
	}
	return res
}

// ClearAudit deletes audit entries of one bucket; medium clears the batch.
func (s *Surface) ClearAudit(bucket models.Bucket) Result {
	switch bucket {
	case models.BucketMedium:
		return s.ClearBatch()
	case models.BucketHigh, models.BucketLow:
		n, err := s.DB.DeleteAuditByBucket(bucket)
		if err != nil {
			return fail("clearing %s: %v", bucket, err)
		}
		return ok("Cleared %d %s items", n, bucket)
	default:
		return fail("invalid bucket %q", bucket)
	}
}

// DeletePost removes a publication from the channel and the store. The
// record is removed even when the remote delete fails.
func (s *Surface) DeletePost(ctx context.Context, id int64) Result {
	post, err := s.DB.GetPublished(id)
	if err != nil {
		return s.storeFailure("delete post", id, err)
	}

	var remoteErr error
	if post.MessageRef != nil {
		remoteErr = s.Out.Delete(ctx, *post.MessageRef)
	}
	if err := s.DB.DeletePublished(id); err != nil {
		return fail("deleting record: %v", err)
	}
	if remoteErr != nil {
		s.log.Warn("remote delete failed", "post_id", id, "error", remoteErr)
		return ok("Deleted record; removing it from the channel failed: %v", remoteErr)
	}
	return ok("Deleted post %d", id)
}

// Replay re-reads the last minutes of every active source and enqueues
// what it finds, oldest first. Dedup still applies.
func (s *Surface) Replay(ctx context.Context, minutes int) Result {
	if minutes <= 0 {
		return fail("minutes must be positive")
	}
	sources, err := s.DB.GetActiveSources()
	if err != nil {
		return fail("listing sources: %v", err)
	}
	cutoff := s.now().Add(-time.Duration(minutes) * time.Minute)

	var msgs []models.RawMessage
	failed := 0
	for _, src := range sources {
		recent, err := s.History.FetchRecent(ctx, src.Username, 100)
		if err != nil {
			s.log.Warn("replay fetch failed", "source", src.Username, "error", err)
			failed++
			continue
		}
		for _, m := range recent {
			if !m.Date.Before(cutoff) {
				msgs = append(msgs, m)
			}
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Date.Before(msgs[j].Date) })

	accepted := 0
	for _, m := range msgs {
		added, err := s.Queue.Enqueue(m)
		if err != nil {
			s.log.Warn("replay enqueue failed", "permalink", m.Permalink, "error", err)
			continue
		}
		if added {
			accepted++
		}
	}

	msg := fmt.Sprintf("Replayed %d of %d messages from the last %d minutes", accepted, len(msgs), minutes)
	if failed > 0 {
		msg += fmt.Sprintf(" (%d sources failed)", failed)
	}
	return ok("%s", msg)
}

func (s *Surface) storeFailure(op string, id int64, err error) Result {
	if database.IsNotFound(err) {
		return fail("item %d not found", id)
	}
	s.log.Error(op+" failed", "id", id, "error", err)
	return fail("%s failed: %v", op, err)
}
