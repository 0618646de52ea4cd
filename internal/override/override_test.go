package override

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/brief"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/digest"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/judge"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/logging"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/pipeline"
)

type fakeJudge struct {
	composed string
	// digestBlock holds digest composition open until closed.
	digestBlock   chan struct{}
	digestEntered chan struct{}
}

func (f *fakeJudge) Classify(context.Context, judge.ClassifyInput) (*models.Verdict, error) {
	return nil, errors.New("not used")
}

func (f *fakeJudge) Compose(_ context.Context, mode judge.Mode, _ judge.ComposeInput) (string, error) {
	if mode == judge.ModeDigest && f.digestBlock != nil {
		close(f.digestEntered)
		<-f.digestBlock
		return "digest", nil
	}
	return f.composed, nil
}

func (f *fakeJudge) FindRelated(context.Context, judge.RelatedInput) (int, bool, error) {
	return 0, false, nil
}

type fakePublisher struct {
	published  []string
	deleted    []int64
	publishErr error
	deleteErr  error
}

func (p *fakePublisher) Publish(_ context.Context, text string) (int64, error) {
	if p.publishErr != nil {
		return 0, p.publishErr
	}
	p.published = append(p.published, text)
	return int64(len(p.published)), nil
}

func (p *fakePublisher) Edit(context.Context, int64, string) error { return nil }

func (p *fakePublisher) Delete(_ context.Context, ref int64) error {
	p.deleted = append(p.deleted, ref)
	return p.deleteErr
}

type fakeHistory struct {
	msgs map[string][]models.RawMessage
}

func (h *fakeHistory) FetchRecent(_ context.Context, source string, _ int) ([]models.RawMessage, error) {
	if msgs, ok := h.msgs[source]; ok {
		return msgs, nil
	}
	return nil, errors.New("unreachable")
}

type fakeQueue struct {
	seen map[string]bool
	got  []string
}

func (q *fakeQueue) Enqueue(m models.RawMessage) (bool, error) {
	if q.seen == nil {
		q.seen = map[string]bool{}
	}
	if q.seen[m.Permalink] {
		return false, nil
	}
	q.seen[m.Permalink] = true
	q.got = append(q.got, m.Permalink)
	return true, nil
}

type fixture struct {
	db      *database.DB
	judge   *fakeJudge
	flusher *digest.Flusher
	pub     *fakePublisher
	history *fakeHistory
	queue   *fakeQueue
	s       *Surface
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	j := &fakeJudge{composed: "composed"}
	pub := &fakePublisher{}
	history := &fakeHistory{msgs: map[string][]models.RawMessage{}}
	q := &fakeQueue{}
	log := logging.Discard()

	flusher := digest.NewFlusher(db, j, pub, 50, log)
	sched := digest.NewScheduler(flusher, digest.ScheduleOptions{Interval: time.Hour}, log)
	s := New(Deps{
		DB:      db,
		Merger:  pipeline.NewMerger(db, j, pub, pipeline.MergeOptions{}, log),
		Digest:  sched,
		Batch:   flusher,
		Brief:   brief.New(db, j, history, brief.Options{}, log),
		Out:     pub,
		History: history,
		Queue:   q,
	}, log)
	return &fixture{db: db, judge: j, flusher: flusher, pub: pub, history: history, queue: q, s: s}
}

func (f *fixture) lowEntry(t *testing.T, permalink string) int64 {
	t.Helper()
	id, err := f.db.InsertAudit(database.AuditEntry{
		Source:    "@x",
		Permalink: permalink,
		Text:      "text",
		Bucket:    models.BucketLow,
		Verdict:   models.Verdict{Bucket: models.BucketLow, Rationale: "minor", KeyPoints: []string{"k"}},
		Action:    models.ActionDiscardedLow,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("inserting audit: %v", err)
	}
	return id
}

func TestPromoteDemoteRoundTrip(t *testing.T) {
	f := newFixture(t)
	id := f.lowEntry(t, "https://t/x/1")

	if res := f.s.Promote(context.Background(), id, models.BucketLow); !res.Success {
		t.Fatalf("promote failed: %+v", res)
	}
	if n, _ := f.db.CountAudit("https://t/x/1"); n != 0 {
		t.Errorf("expected audit entry moved, %d remain", n)
	}
	items, _ := f.db.PendingBatchItems(10)
	if len(items) != 1 {
		t.Fatalf("expected one batch item, got %d", len(items))
	}

	if res := f.s.Demote(context.Background(), items[0].ID, models.BucketMedium); !res.Success {
		t.Fatalf("demote failed: %+v", res)
	}
	entries, _ := f.db.ListAudit(models.BucketLow, 10)
	if len(entries) != 1 {
		t.Fatalf("expected one low entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Permalink != "https://t/x/1" || e.Text != "text" || e.Source != "@x" || e.Verdict.Rationale != "minor" || e.Action != models.ActionDemotedToLow {
		t.Errorf("round trip changed the entry: %+v", e)
	}
	if items, _ := f.db.PendingBatchItems(10); len(items) != 0 {
		t.Error("expected the batch item removed")
	}
}

func TestPromoteMediumPublishes(t *testing.T) {
	f := newFixture(t)
	id, _ := f.db.InsertBatchItem(database.BatchItem{
		Source: "@x", Permalink: "https://t/x/1", Text: "text",
		Verdict: models.Verdict{Bucket: models.BucketMedium}, ReceivedAt: time.Now(),
	})

	res := f.s.Promote(context.Background(), id, models.BucketMedium)
	if !res.Success {
		t.Fatalf("promote failed: %+v", res)
	}
	if len(f.pub.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(f.pub.published))
	}
	if _, err := f.db.GetBatchItem(id); !database.IsNotFound(err) {
		t.Error("expected batch item removed")
	}
	entries, _ := f.db.ListAudit(models.BucketHigh, 10)
	if len(entries) != 1 || entries[0].Action != models.ActionPromotedAndPosted || entries[0].Verdict.Bucket != models.BucketHigh {
		t.Errorf("unexpected audit entries %+v", entries)
	}
	if n, _ := f.db.CountPublished(models.PostTypeHigh); n != 1 {
		t.Errorf("expected one high publication, got %d", n)
	}
}

func TestPromoteMediumPublishFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.pub.publishErr = errors.New("flood wait")
	id, _ := f.db.InsertBatchItem(database.BatchItem{
		Source: "@x", Permalink: "https://t/x/1", Text: "text", ReceivedAt: time.Now(),
	})

	if res := f.s.Promote(context.Background(), id, models.BucketMedium); res.Success || res.Error == "" {
		t.Fatalf("expected failure, got %+v", res)
	}
	if _, err := f.db.GetBatchItem(id); err != nil {
		t.Error("expected batch item kept")
	}
	if entries, _ := f.db.ListAudit("", 10); len(entries) != 0 {
		t.Error("expected no audit entry")
	}
}

func TestPromoteMediumRefusedDuringDigest(t *testing.T) {
	f := newFixture(t)
	f.judge.digestBlock = make(chan struct{})
	f.judge.digestEntered = make(chan struct{})
	id, _ := f.db.InsertBatchItem(database.BatchItem{
		Source: "@x", Permalink: "https://t/x/1", Text: "text", ReceivedAt: time.Now(),
	})

	flushed := make(chan error, 1)
	go func() {
		_, err := f.flusher.Flush(context.Background(), digest.ScheduledWindow(time.Now(), time.Hour))
		flushed <- err
	}()
	<-f.judge.digestEntered

	if res := f.s.Promote(context.Background(), id, models.BucketMedium); res.Success {
		t.Fatalf("expected promotion refused during a flush, got %+v", res)
	}
	if res := f.s.Demote(context.Background(), id, models.BucketMedium); res.Success {
		t.Fatalf("expected demotion refused during a flush, got %+v", res)
	}
	close(f.judge.digestBlock)
	if err := <-flushed; err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if len(f.pub.published) != 1 || f.pub.published[0] != "digest" {
		t.Errorf("expected only the digest published, got %q", f.pub.published)
	}
	if n, _ := f.db.CountPublished(models.PostTypeHigh); n != 0 {
		t.Errorf("expected no high post, got %d", n)
	}
	if entries, _ := f.db.ListAudit("", 10); len(entries) != 0 {
		t.Errorf("expected no audit entry, got %d", len(entries))
	}

	if res := f.s.Promote(context.Background(), id, models.BucketMedium); res.Success {
		t.Errorf("expected digested item not promotable, got %+v", res)
	}
}

func TestDemoteHighKeepsPublication(t *testing.T) {
	f := newFixture(t)
	ref := int64(9)
	f.db.InsertPublished(database.PublishedRecord{PostType: models.PostTypeHigh, Content: "c", MessageRef: &ref, PublishedAt: time.Now()})
	id, _ := f.db.InsertAudit(database.AuditEntry{
		Source: "@x", Permalink: "https://t/x/1", Text: "t", Bucket: models.BucketHigh,
		Action: models.ActionPostedHigh, CreatedAt: time.Now(),
	})

	if res := f.s.Demote(context.Background(), id, models.BucketHigh); !res.Success {
		t.Fatalf("demote failed: %+v", res)
	}
	if items, _ := f.db.PendingBatchItems(10); len(items) != 1 {
		t.Error("expected item back in the batch")
	}
	if n, _ := f.db.CountPublished(models.PostTypeHigh); n != 1 || len(f.pub.deleted) != 0 {
		t.Error("expected publication untouched")
	}
}

func TestDemoteLowDeletes(t *testing.T) {
	f := newFixture(t)
	id := f.lowEntry(t, "https://t/x/1")
	if res := f.s.Demote(context.Background(), id, models.BucketLow); !res.Success {
		t.Fatalf("demote failed: %+v", res)
	}
	if n, _ := f.db.CountAudit("https://t/x/1"); n != 0 {
		t.Error("expected entry deleted")
	}
}

func TestWrongBucketIsNotFound(t *testing.T) {
	f := newFixture(t)
	id := f.lowEntry(t, "https://t/x/1")

	res := f.s.Demote(context.Background(), id, models.BucketHigh)
	if res.Success || !strings.Contains(res.Error, "not found") {
		t.Errorf("expected not found, got %+v", res)
	}
	res = f.s.Promote(context.Background(), 999, models.BucketMedium)
	if res.Success || !strings.Contains(res.Error, "not found") {
		t.Errorf("expected not found, got %+v", res)
	}
	if res := f.s.Promote(context.Background(), id, "critical"); res.Success {
		t.Error("expected invalid bucket failure")
	}
	if n, _ := f.db.CountAudit("https://t/x/1"); n != 1 {
		t.Error("expected entry untouched")
	}
}

func TestTriggerFlush(t *testing.T) {
	f := newFixture(t)
	if res := f.s.TriggerFlush(context.Background()); !res.Success || res.Message != "Nothing to flush" {
		t.Errorf("unexpected empty flush result %+v", res)
	}

	f.db.InsertBatchItem(database.BatchItem{Source: "@x", Permalink: "https://t/x/1", Text: "t", ReceivedAt: time.Now()})
	res := f.s.TriggerFlush(context.Background())
	if !res.Success || !strings.Contains(res.Message, "1 items") {
		t.Errorf("unexpected flush result %+v", res)
	}
	if n, _ := f.db.CountPublished(models.PostTypeBatchDigest); n != 1 {
		t.Errorf("expected one digest, got %d", n)
	}
}

func TestClearAudit(t *testing.T) {
	f := newFixture(t)
	f.lowEntry(t, "https://t/x/1")
	f.lowEntry(t, "https://t/x/2")
	f.db.InsertBatchItem(database.BatchItem{Source: "@x", Permalink: "https://t/x/3", Text: "t", ReceivedAt: time.Now()})

	if res := f.s.ClearAudit(models.BucketLow); !res.Success || !strings.Contains(res.Message, "2") {
		t.Errorf("unexpected result %+v", res)
	}
	if res := f.s.ClearAudit(models.BucketMedium); !res.Success || !strings.Contains(res.Message, "1") {
		t.Errorf("unexpected result %+v", res)
	}
	if res := f.s.ClearAudit("everything"); res.Success {
		t.Error("expected invalid bucket failure")
	}
}

func TestDeletePostRemovesRecordEvenWhenRemoteFails(t *testing.T) {
	f := newFixture(t)
	f.pub.deleteErr = errors.New("message too old")
	ref := int64(42)
	id, _ := f.db.InsertPublished(database.PublishedRecord{PostType: models.PostTypeHigh, Content: "c", MessageRef: &ref, PublishedAt: time.Now()})

	res := f.s.DeletePost(context.Background(), id)
	if !res.Success || !strings.Contains(res.Message, "failed") {
		t.Errorf("expected success mentioning the remote failure, got %+v", res)
	}
	if len(f.pub.deleted) != 1 || f.pub.deleted[0] != 42 {
		t.Errorf("expected remote delete of ref 42, got %v", f.pub.deleted)
	}
	if _, err := f.db.GetPublished(id); !database.IsNotFound(err) {
		t.Error("expected record deleted")
	}
	if res := f.s.DeletePost(context.Background(), id); res.Success {
		t.Error("expected not found on second delete")
	}
}

func TestReplayEnqueuesRecentInOrder(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.db.SeedSources([]string{"alpha", "beta", "down"}, now)
	f.history.msgs["alpha"] = []models.RawMessage{
		{Permalink: "https://t/alpha/2", Date: now.Add(-2 * time.Minute)},
		{Permalink: "https://t/alpha/old", Date: now.Add(-time.Hour)},
	}
	f.history.msgs["beta"] = []models.RawMessage{
		{Permalink: "https://t/beta/1", Date: now.Add(-5 * time.Minute)},
		{Permalink: "https://t/alpha/2", Date: now.Add(-2 * time.Minute)},
	}

	res := f.s.Replay(context.Background(), 10)
	if !res.Success {
		t.Fatalf("replay failed: %+v", res)
	}
	if len(f.queue.got) != 2 || f.queue.got[0] != "https://t/beta/1" || f.queue.got[1] != "https://t/alpha/2" {
		t.Errorf("expected oldest-first deduplicated replay, got %v", f.queue.got)
	}
	if !strings.Contains(res.Message, "1 sources failed") {
		t.Errorf("expected failed source reported, got %q", res.Message)
	}
	if res := f.s.Replay(context.Background(), 0); res.Success {
		t.Error("expected failure for non-positive minutes")
	}
}

func TestContextOperations(t *testing.T) {
	f := newFixture(t)
	if res := f.s.SetContext(""); res.Success {
		t.Error("expected empty context rejected")
	}
	if res := f.s.SetContext("calm"); !res.Success {
		t.Errorf("unexpected failure %+v", res)
	}
	if res := f.s.MergeContext(context.Background(), "event"); !res.Success {
		t.Errorf("unexpected failure %+v", res)
	}
	if got, _ := f.db.GetContext(); got != "composed" {
		t.Errorf("expected merged context, got %q", got)
	}
	if res := f.s.ReinitializeContext(context.Background()); !res.Success || res.Message != brief.NoNews {
		t.Errorf("expected no-news result, got %+v", res)
	}
}
