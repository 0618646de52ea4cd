package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func msg(permalink string) models.RawMessage {
	return models.RawMessage{
		Source:    "x",
		Permalink: permalink,
		MessageID: 1,
		Text:      "text for " + permalink,
		Date:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func verdict(b models.Bucket) models.Verdict {
	return models.Verdict{Bucket: b, Rationale: "why", Novelty: "new", KeyPoints: []string{"a", "b"}}
}

func TestQueueRecordLifecycle(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := db.InsertQueueRecord("r1", msg("https://t/x/1"), now); err != nil {
		t.Fatalf("insert: %v", err)
	}

	exists, err := db.QueueRecordExistsSince("https://t/x/1", now.Add(-time.Hour))
	if err != nil || !exists {
		t.Fatalf("expected record within window, exists=%v err=%v", exists, err)
	}
	exists, _ = db.QueueRecordExistsSince("https://t/x/1", now.Add(time.Minute))
	if exists {
		t.Error("expected no record after the window start")
	}

	pending, _ := db.UnprocessedQueueRecords()
	if len(pending) != 1 || pending[0].Message.Text != "text for https://t/x/1" {
		t.Fatalf("expected 1 pending record, got %+v", pending)
	}

	if err := db.MarkQueueStarted("r1", now); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	errMsg := "classification failed"
	if err := db.MarkQueueProcessed("r1", now.Add(time.Second), &errMsg); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	rec, err := db.GetQueueRecord("r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !rec.Processed || rec.ProcessingStartedAt == nil || rec.Error == nil || *rec.Error != errMsg {
		t.Errorf("unexpected record state: %+v", rec)
	}

	pending, _ = db.UnprocessedQueueRecords()
	if len(pending) != 0 {
		t.Errorf("expected no pending records, got %d", len(pending))
	}

	counts, _ := db.GetQueueCounts()
	if counts.Total != 1 || counts.Failed != 1 || counts.Pending != 0 {
		t.Errorf("unexpected counts: %+v", counts)
	}

	if _, err := db.GetQueueRecord("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUnprocessedQueueRecordsOrder(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db.InsertQueueRecord("c", msg("https://t/x/3"), base.Add(2*time.Second))
	db.InsertQueueRecord("a", msg("https://t/x/1"), base)
	db.InsertQueueRecord("b", msg("https://t/x/2"), base.Add(time.Second))

	pending, err := db.UnprocessedQueueRecords()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ids []string
	for _, r := range pending {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("expected received_at order a,b,c, got %v", ids)
	}
}

func TestBatchLifecycle(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id1, _ := db.InsertBatchItem(BatchItem{Source: "x", Permalink: "p1", Text: "one", Verdict: verdict(models.BucketMedium), ReceivedAt: now})
	id2, _ := db.InsertBatchItem(BatchItem{Source: "x", Permalink: "p2", Text: "two", Verdict: verdict(models.BucketMedium), ReceivedAt: now.Add(time.Minute)})

	items, err := db.PendingBatchItems(0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(items) != 2 || items[0].ID != id1 {
		t.Fatalf("expected 2 items oldest first, got %+v", items)
	}
	if items[0].Verdict.KeyPoints[1] != "b" {
		t.Errorf("verdict not round-tripped: %+v", items[0].Verdict)
	}

	capped, _ := db.PendingBatchItems(1)
	if len(capped) != 1 {
		t.Errorf("expected cap of 1, got %d", len(capped))
	}

	if err := db.MarkBatchProcessed([]int64{id1, id2}, now); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	items, _ = db.PendingBatchItems(0)
	if len(items) != 0 {
		t.Errorf("expected no pending items after mark, got %d", len(items))
	}

	db.InsertBatchItem(BatchItem{Source: "x", Permalink: "p3", Text: "three", Verdict: verdict(models.BucketMedium), ReceivedAt: now})
	n, err := db.ClearPendingBatch()
	if err != nil || n != 1 {
		t.Errorf("expected to clear 1 pending item, got %d err=%v", n, err)
	}
	item, _ := db.GetBatchItem(id1)
	if item == nil || !item.Processed {
		t.Error("processed items must survive a clear")
	}
}

func TestAuditListAndClear(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	db.InsertAudit(AuditEntry{Source: "x", Permalink: "p1", Text: "a", Bucket: models.BucketLow, Verdict: verdict(models.BucketLow), Action: models.ActionDiscardedLow, CreatedAt: now})
	db.InsertAudit(AuditEntry{Source: "x", Permalink: "p2", Text: "b", Bucket: models.BucketHigh, Verdict: verdict(models.BucketHigh), Action: models.ActionPostedHigh, CreatedAt: now})

	low, err := db.ListAudit(models.BucketLow, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(low) != 1 || low[0].Action != models.ActionDiscardedLow {
		t.Errorf("expected 1 low entry, got %+v", low)
	}
	all, _ := db.ListAudit("", 0)
	if len(all) != 2 {
		t.Errorf("expected 2 entries, got %d", len(all))
	}

	n, _ := db.DeleteAuditByBucket(models.BucketLow)
	if n != 1 {
		t.Errorf("expected to delete 1 entry, got %d", n)
	}
}

func TestPublishedRecords(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := int64(100)

	for i := 0; i < 7; i++ {
		db.InsertPublished(PublishedRecord{
			PostType:    models.PostTypeHigh,
			Content:     "post",
			SourceURLs:  []string{"u"},
			MessageRef:  &ref,
			PublishedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	db.InsertPublished(PublishedRecord{PostType: models.PostTypeBatchDigest, Content: "digest", PublishedAt: base.Add(time.Hour)})

	recent, err := db.RecentHighPosts(5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 5 {
		t.Fatalf("expected 5 recent posts, got %d", len(recent))
	}
	if !recent[0].PublishedAt.After(recent[4].PublishedAt) {
		t.Error("expected newest first")
	}

	if err := db.UpdatePublished(recent[0].ID, "post\n\n---\n\nmore", []string{"u", "v"}, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("update: %v", err)
	}
	p, _ := db.GetPublished(recent[0].ID)
	if len(p.SourceURLs) != 2 || p.UpdatedAt == nil || *p.MessageRef != 100 {
		t.Errorf("unexpected updated record: %+v", p)
	}

	since, _ := db.PublishedSince(base.Add(30 * time.Minute))
	if len(since) != 1 || since[0].PostType != models.PostTypeBatchDigest {
		t.Errorf("expected only the digest after cutoff, got %+v", since)
	}

	if err := db.DeletePublished(p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetPublished(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRollingContextSingleton(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetContext()
	if err != nil || got != "" {
		t.Fatalf("expected empty context, got %q err=%v", got, err)
	}

	db.SetContext("first", time.Now())
	db.SetContext("second", time.Now())

	got, _ = db.GetContext()
	if got != "second" {
		t.Errorf("expected 'second', got %q", got)
	}
	var rows int
	db.conn.QueryRow("SELECT COUNT(*) FROM rolling_context").Scan(&rows)
	if rows != 1 {
		t.Errorf("expected exactly one context row, got %d", rows)
	}
}

func TestSources(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	if err := db.SeedSources([]string{"@News", "other"}, now); err != nil {
		t.Fatalf("seed: %v", err)
	}
	title := "News Channel"
	if _, err := db.UpsertSource("news", &title, 1200, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	s, err := db.GetSourceByUsername("@NEWS")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Title == nil || *s.Title != title || s.MemberCount != 1200 {
		t.Errorf("unexpected source: %+v", s)
	}

	db.ToggleSource("other")
	active, _ := db.GetActiveSources()
	if len(active) != 1 || active[0].Username != "news" {
		t.Errorf("expected only 'news' active, got %+v", active)
	}

	if err := db.DeleteSource("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if NormalizeSource("https://example.com/Feed") != "https://example.com/Feed" {
		t.Error("feed URLs must not be lowercased")
	}
}

func TestRateCounter(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)

	db.IncrementRate(at)
	n, err := db.IncrementRate(at.Add(20 * time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("expected count 2 in same hour, got %d err=%v", n, err)
	}
	n, _ = db.IncrementRate(at.Add(time.Hour))
	if n != 1 {
		t.Errorf("expected new window to start at 1, got %d", n)
	}
	got, _ := db.RateCount(at)
	if got != 2 {
		t.Errorf("expected RateCount 2, got %d", got)
	}
}

func TestDailyStats(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	day := StartOfDay(now, time.UTC)

	db.InsertAudit(AuditEntry{Source: "x", Permalink: "h", Text: "h", Bucket: models.BucketHigh, Verdict: verdict(models.BucketHigh), Action: models.ActionPostedHigh, CreatedAt: now})
	db.InsertAudit(AuditEntry{Source: "x", Permalink: "l", Text: "l", Bucket: models.BucketLow, Verdict: verdict(models.BucketLow), Action: models.ActionDiscardedLow, CreatedAt: now})
	db.InsertAudit(AuditEntry{Source: "x", Permalink: "old", Text: "o", Bucket: models.BucketLow, Verdict: verdict(models.BucketLow), Action: models.ActionDiscardedLow, CreatedAt: day.Add(-time.Hour)})
	db.InsertBatchItem(BatchItem{Source: "x", Permalink: "m", Text: "m", Verdict: verdict(models.BucketMedium), ReceivedAt: now})

	s, err := db.GetDailyStats(day)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.High != 1 || s.Low != 1 || s.Medium != 1 || s.PendingBatch != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}
