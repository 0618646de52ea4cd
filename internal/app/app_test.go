package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/config"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/logging"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

func newTestApp(t *testing.T) (*App, *database.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Defaults()
	cfg.Sources.Channels = []string{"bbcpersian"}
	cfg.Sources.Feeds = nil
	cfg.Telegram.BotTokenEnv = "AUTONEWS_TEST_UNSET_TOKEN"
	cfg.Queue.PopTimeout = 10 * time.Millisecond
	cfg.Queue.StopTimeout = time.Second
	return New(cfg, db, nil, logging.Discard()), db
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStartRecoversAndSeeds(t *testing.T) {
	a, db := newTestApp(t)
	msg := models.RawMessage{
		Source: "bbcpersian", Permalink: "https://t.me/bbcpersian/1", Text: "t",
		Date: time.Now(), ReceivedAt: time.Now(),
	}
	if err := db.InsertQueueRecord("left-over", msg, time.Now()); err != nil {
		t.Fatalf("inserting record: %v", err)
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer a.Stop()

	sources, _ := db.GetActiveSources()
	if len(sources) != 1 || sources[0].Username != "bbcpersian" {
		t.Errorf("expected seeded source, got %+v", sources)
	}

	// No oracle is configured, so the recovered record fails classification.
	waitFor(t, func() bool {
		rec, err := db.GetQueueRecord("left-over")
		return err == nil && rec.Processed
	})
	rec, _ := db.GetQueueRecord("left-over")
	if rec.Error == nil {
		t.Error("expected the record marked failed")
	}
	if n, _ := db.CountAudit(msg.Permalink); n != 0 {
		t.Error("expected no audit entry for a classification failure")
	}
}

func TestSourceManagement(t *testing.T) {
	a, db := newTestApp(t)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer a.Stop()

	if res := a.AddSource(ctx, "@RadioFarda"); !res.Success {
		t.Fatalf("AddSource failed: %+v", res)
	}
	if _, err := db.GetSourceByUsername("radiofarda"); err != nil {
		t.Errorf("expected source stored: %v", err)
	}

	res := a.ToggleSource(ctx, "radiofarda")
	if !res.Success || !strings.Contains(res.Message, "paused") {
		t.Errorf("unexpected toggle result %+v", res)
	}
	if active, _ := db.GetActiveSources(); len(active) != 1 {
		t.Errorf("expected one active source, got %d", len(active))
	}

	if res := a.RemoveSource(ctx, "nobody"); res.Success || !strings.Contains(res.Error, "not found") {
		t.Errorf("expected not found, got %+v", res)
	}
	if res := a.AddSource(ctx, "  "); res.Success {
		t.Error("expected empty username rejected")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	a.Stop()
	a.Stop()
	if a.Queue().Stats().Running {
		t.Error("expected queue stopped")
	}
	if err := a.Resubscribe(); err != nil {
		t.Errorf("resubscribe after stop should be a no-op, got %v", err)
	}
}
