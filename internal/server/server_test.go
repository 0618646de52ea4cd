package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
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
	"github.com/hamidreza004/hamidspulse-auto-news/internal/override"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/pipeline"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/queue"
)

type stubJudge struct{}

func (stubJudge) Classify(context.Context, judge.ClassifyInput) (*models.Verdict, error) {
	return nil, errors.New("not used")
}

func (stubJudge) Compose(context.Context, judge.Mode, judge.ComposeInput) (string, error) {
	return "composed", nil
}

func (stubJudge) FindRelated(context.Context, judge.RelatedInput) (int, bool, error) {
	return 0, false, nil
}

type stubGateway struct{ published int }

func (g *stubGateway) Publish(context.Context, string) (int64, error) {
	g.published++
	return int64(g.published), nil
}
func (g *stubGateway) Edit(context.Context, int64, string) error { return nil }
func (g *stubGateway) Delete(context.Context, int64) error       { return nil }
func (g *stubGateway) FetchRecent(context.Context, string, int) ([]models.RawMessage, error) {
	return nil, nil
}

type stubQueue struct{}

func (stubQueue) Stats() queue.Stats                        { return queue.Stats{Depth: 2, Enqueued: 5} }
func (stubQueue) Enqueue(models.RawMessage) (bool, error) { return true, nil }

type stubSources struct{ added []string }

func (s *stubSources) AddSource(_ context.Context, u string) override.Result {
	s.added = append(s.added, u)
	return override.Result{Success: true, Message: "Added " + u}
}
func (s *stubSources) RemoveSource(_ context.Context, u string) override.Result {
	return override.Result{Error: "source " + u + " not found"}
}
func (s *stubSources) ToggleSource(_ context.Context, u string) override.Result {
	return override.Result{Success: true, Message: "Toggled " + u}
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T) (*Server, *database.DB, *stubSources) {
	t.Helper()
	db := openTestDB(t)
	log := logging.Discard()
	gw := &stubGateway{}
	j := stubJudge{}
	flusher := digest.NewFlusher(db, j, gw, 50, log)
	sched := digest.NewScheduler(flusher, digest.ScheduleOptions{Interval: time.Hour}, log)
	surface := override.New(override.Deps{
		DB:      db,
		Merger:  pipeline.NewMerger(db, j, gw, pipeline.MergeOptions{}, log),
		Digest:  sched,
		Batch:   flusher,
		Brief:   brief.New(db, j, gw, brief.Options{}, log),
		Out:     gw,
		History: gw,
		Queue:   stubQueue{},
	}, log)
	sources := &stubSources{}
	srv := New(Deps{
		DB:        db,
		Override:  surface,
		Queue:     stubQueue{},
		Scheduler: sched,
		Sources:   sources,
	}, log)
	return srv, db, sources
}

func do(t *testing.T, srv *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON from %s %s: %v\n%s", method, path, err, rec.Body.String())
	}
	return rec.Code, out
}

func TestStatusRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	code, out := do(t, srv, "GET", "/api/status", "")
	if code != http.StatusOK || out["success"] != true {
		t.Fatalf("unexpected response %d %v", code, out)
	}
	for _, key := range []string{"today", "stored", "queue", "scheduler", "posts_this_hour"} {
		if _, ok := out[key]; !ok {
			t.Errorf("expected %q in status", key)
		}
	}
	q := out["queue"].(map[string]any)
	if q["queue_size"] != float64(2) {
		t.Errorf("expected queue size 2, got %v", q["queue_size"])
	}
}

func TestStateRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)
	code, out := do(t, srv, "POST", "/api/state/set", `{"content":"tensions easing"}`)
	if code != http.StatusOK || out["success"] != true {
		t.Fatalf("set failed: %d %v", code, out)
	}
	_, out = do(t, srv, "GET", "/api/state", "")
	if out["content"] != "tensions easing" {
		t.Errorf("expected stored content, got %v", out["content"])
	}

	code, out = do(t, srv, "POST", "/api/state/set", `{}`)
	if code != http.StatusBadRequest || out["success"] != false {
		t.Errorf("expected 400 for missing content, got %d %v", code, out)
	}
}

func TestPromoteRoute(t *testing.T) {
	srv, db, _ := newTestServer(t)
	id, _ := db.InsertAudit(database.AuditEntry{
		Source: "x", Permalink: "https://t.me/x/1", Text: "t", Bucket: models.BucketLow,
		Action: models.ActionDiscardedLow, CreatedAt: time.Now(),
	})

	code, out := do(t, srv, "POST", "/api/message/promote", `{"id":`+itoa(id)+`,"bucket":"low"}`)
	if code != http.StatusOK || out["success"] != true {
		t.Fatalf("promote failed: %d %v", code, out)
	}

	_, out = do(t, srv, "GET", "/api/queue", "")
	medium := out["medium"].([]any)
	if len(medium) != 1 {
		t.Fatalf("expected 1 medium item, got %d", len(medium))
	}
	if action := medium[0].(map[string]any)["action"]; action != models.ActionQueuedMedium {
		t.Errorf("expected medium item labelled %s, got %v", models.ActionQueuedMedium, action)
	}
	if n := len(out["low"].([]any)); n != 0 {
		t.Errorf("expected 0 low items, got %d", n)
	}
}

func TestMoveRejectsBadInput(t *testing.T) {
	srv, _, _ := newTestServer(t)
	code, out := do(t, srv, "POST", "/api/message/demote", `{"id":1,"bucket":"urgent"}`)
	if code != http.StatusBadRequest || !strings.Contains(out["error"].(string), "invalid bucket") {
		t.Errorf("expected invalid bucket error, got %d %v", code, out)
	}
	code, out = do(t, srv, "POST", "/api/message/demote", `{"id":99,"bucket":"low"}`)
	if code != http.StatusBadRequest || !strings.Contains(out["error"].(string), "not found") {
		t.Errorf("expected not found error, got %d %v", code, out)
	}
}

func TestFlushAndPostsRoutes(t *testing.T) {
	srv, db, _ := newTestServer(t)
	db.InsertBatchItem(database.BatchItem{Source: "x", Permalink: "https://t.me/x/2", Text: "t", ReceivedAt: time.Now()})

	code, out := do(t, srv, "POST", "/api/queue/clear", "")
	if code != http.StatusOK || !strings.Contains(out["message"].(string), "1 items") {
		t.Fatalf("flush failed: %d %v", code, out)
	}

	_, out = do(t, srv, "GET", "/api/posts/24h", "")
	posts := out["posts"].([]any)
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	post := posts[0].(map[string]any)
	if post["type"] != models.PostTypeBatchDigest {
		t.Errorf("unexpected post type %v", post["type"])
	}

	code, out = do(t, srv, "POST", "/api/posts/delete", `{"post_id":`+itoa(int64(post["id"].(float64)))+`}`)
	if code != http.StatusOK || out["success"] != true {
		t.Errorf("delete failed: %d %v", code, out)
	}
}

func TestClearRoutes(t *testing.T) {
	srv, db, _ := newTestServer(t)
	db.InsertAudit(database.AuditEntry{Source: "x", Permalink: "p", Text: "t", Bucket: models.BucketHigh, Action: models.ActionPostedHigh, CreatedAt: time.Now()})

	code, out := do(t, srv, "POST", "/api/queue/clear-high", "")
	if code != http.StatusOK || !strings.Contains(out["message"].(string), "Cleared 1") {
		t.Errorf("unexpected response %d %v", code, out)
	}
}

func TestSourceRoutes(t *testing.T) {
	srv, db, sources := newTestServer(t)
	db.SeedSources([]string{"bbcpersian"}, time.Now())

	_, out := do(t, srv, "GET", "/api/sources", "")
	list := out["sources"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["username"] != "bbcpersian" {
		t.Errorf("unexpected sources %v", list)
	}

	code, _ := do(t, srv, "POST", "/api/sources", `{"username":"@radiofarda"}`)
	if code != http.StatusOK || len(sources.added) != 1 || sources.added[0] != "@radiofarda" {
		t.Errorf("expected add to reach the manager, got %d %v", code, sources.added)
	}
	code, out = do(t, srv, "DELETE", "/api/sources/nobody", "")
	if code != http.StatusBadRequest || out["error"] != "source nobody not found" {
		t.Errorf("unexpected remove response %d %v", code, out)
	}
}

func TestReplayDefaultsToAnHour(t *testing.T) {
	srv, _, _ := newTestServer(t)
	code, out := do(t, srv, "POST", "/api/replay", "")
	if code != http.StatusOK || !strings.Contains(out["message"].(string), "last 60 minutes") {
		t.Errorf("unexpected response %d %v", code, out)
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
