// Package app assembles every component from configuration and owns the
// process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/backoff"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/bridge"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/brief"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/collect"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/config"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/digest"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/gateway"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/judge"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/llm"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/override"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/pipeline"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/queue"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/server"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/telegram"
)

// App holds the wired system.
type App struct {
	cfg *config.Config
	db  *database.DB
	log *slog.Logger
	now func() time.Time

	tg        *telegram.Client
	gateway   *gateway.Composite
	queue     *queue.Queue
	scheduler *digest.Scheduler
	brief     *brief.Maintainer
	override  *override.Surface

	mu         sync.Mutex
	base       context.Context
	stopIntake context.CancelFunc
	intakeDone chan struct{}
	running    bool
}

// New wires every component without touching the network. The caller
// keeps ownership of db.
func New(cfg *config.Config, db *database.DB, provider llm.Provider, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, db: db, log: logger.With("component", "app"), now: time.Now}

	reconnect := backoff.Policy{
		Attempts:   cfg.Telegram.Reconnect.Attempts,
		Base:       cfg.Telegram.Reconnect.Base,
		Multiplier: cfg.Telegram.Reconnect.Multiplier,
		Max:        cfg.Telegram.Reconnect.Max,
	}
	a.tg = telegram.New(telegram.Options{
		APIURL:      cfg.Telegram.APIURL,
		PreviewURL:  cfg.Telegram.PreviewURL,
		Token:       cfg.BotToken(),
		Target:      cfg.Target.Channel,
		PollTimeout: cfg.Telegram.PollTimeout,
		Reconnect:   reconnect,
	}, logger)

	names := make(map[string]string, len(cfg.Sources.Feeds))
	for _, f := range cfg.Sources.Feeds {
		names[f.URL] = f.Name
	}
	feeds := collect.NewFeedSubscriber(collect.FeedOptions{
		Interval: cfg.Sources.PollInterval,
		Names:    names,
	}, logger)

	subs := []gateway.Subscriber{a.tg, feeds}
	if cfg.Sources.Bridge.Enabled {
		subs = append(subs, bridge.New(bridge.Options{
			URL:       cfg.Sources.Bridge.URL,
			Subject:   cfg.Sources.Bridge.Subject,
			Reconnect: reconnect,
			Buffer:    cfg.Queue.InboundBuffer,
		}, logger))
	}

	a.gateway = &gateway.Composite{
		Subscribers: subs,
		Out:         gateway.NewCounted(a.tg, db, cfg.RateLimits.MaxPostsPerHour, logger.With("component", "rate")),
		Channels:    a.tg,
		Feeds:       feeds,
		Buffer:      cfg.Queue.InboundBuffer,
		Logger:      logger.With("component", "gateway"),
	}

	oracle := judge.New(provider, judge.Options{
		MaxTokens:        cfg.Judgment.MaxTokens,
		Concurrency:      cfg.Judgment.Concurrency,
		Voice:            cfg.Judgment.Voice,
		Signature:        cfg.Target.Signature,
		ContextMaxLength: cfg.Context.MaxLength,
	}, logger)

	merger := pipeline.NewMerger(db, oracle, a.gateway, pipeline.MergeOptions{
		Candidates:       cfg.Merge.Candidates,
		MaxContentLength: cfg.Merge.MaxContentLength,
		Separator:        cfg.Merge.Separator,
	}, logger)
	pipe := pipeline.New(db, oracle, merger, logger)

	a.queue = queue.New(db, queue.ProcessorFunc(func(ctx context.Context, msg models.RawMessage) error {
		if err := db.TouchSource(msg.Source, msg.ReceivedAt); err != nil {
			a.log.Debug("touching source failed", "source", msg.Source, "error", err)
		}
		return pipe.Process(ctx, msg)
	}), queue.Options{
		DedupWindow: cfg.Queue.DedupWindow,
		CacheSize:   cfg.Queue.RecentCacheSize,
		PopTimeout:  cfg.Queue.PopTimeout,
		StopTimeout: cfg.Queue.StopTimeout,
	}, logger)

	flusher := digest.NewFlusher(db, oracle, a.gateway, cfg.Digest.MaxItems, logger)
	a.scheduler = digest.NewScheduler(flusher, digest.ScheduleOptions{
		Interval: cfg.Digest.Interval,
		Offset:   cfg.Digest.Offset,
		Location: cfg.Location(),
	}, logger)

	a.brief = brief.New(db, oracle, a.gateway, brief.Options{
		Window:      cfg.Context.Window,
		FetchLimit:  cfg.Context.FetchLimit,
		Parallelism: cfg.Context.Parallelism,
		MaxLength:   cfg.Context.MaxLength,
	}, logger)

	a.override = override.New(override.Deps{
		DB:      db,
		Merger:  merger,
		Digest:  a.scheduler,
		Batch:   flusher,
		Brief:   a.brief,
		Out:     a.gateway,
		History: a.gateway,
		Queue:   a.queue,
	}, logger)
	return a
}

func (a *App) Override() *override.Surface  { return a.override }
func (a *App) Queue() *queue.Queue          { return a.queue }
func (a *App) Scheduler() *digest.Scheduler { return a.scheduler }

// Server builds the operator API over this app.
func (a *App) Server() *server.Server {
	return server.New(server.Deps{
		DB:        a.db,
		Override:  a.override,
		Queue:     a.queue,
		Scheduler: a.scheduler,
		Sources:   a,
		Location:  a.cfg.Location(),
	}, a.log)
}

// Start seeds configured sources, recovers unprocessed records, starts
// the consumer, subscribes to active sources and starts the scheduler.
// Recovery always completes before new messages are accepted.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	seed := append([]string{}, a.cfg.Sources.Channels...)
	for _, f := range a.cfg.Sources.Feeds {
		seed = append(seed, f.URL)
	}
	if err := a.db.SeedSources(seed, a.now()); err != nil {
		return fmt.Errorf("seeding sources: %w", err)
	}

	n, err := a.queue.Recover()
	if err != nil {
		return err
	}
	// The consumer and scheduler outlive ctx so Stop can let the in-flight
	// item finish within the stop timeout.
	bg := context.WithoutCancel(ctx)
	a.queue.Start(bg)

	a.base = ctx
	if err := a.subscribeLocked(); err != nil {
		a.queue.Stop()
		return err
	}
	a.scheduler.Start(bg)
	a.running = true
	a.log.Info("started", "recovered", n)
	return nil
}

// Stop stops the scheduler, closes intake, waits for the consumer within
// its stop timeout and closes the gateway.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false

	a.scheduler.Stop()
	a.stopIntakeLocked()
	if !a.queue.Stop() {
		a.log.Warn("queue stopped with an abandoned in-flight message")
	}
	if err := a.gateway.Close(); err != nil {
		a.log.Warn("closing gateway", "error", err)
	}
	a.log.Info("stopped")
}

// Resubscribe restarts intake with the current set of active sources.
func (a *App) Resubscribe() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.stopIntakeLocked()
	return a.subscribeLocked()
}

func (a *App) subscribeLocked() error {
	sources, err := a.db.GetActiveSources()
	if err != nil {
		return fmt.Errorf("listing sources: %w", err)
	}
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Username
	}

	ctx, cancel := context.WithCancel(a.base)
	in, err := a.gateway.Subscribe(ctx, names)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.queue.Drain(ctx, in)
	}()
	a.stopIntake, a.intakeDone = cancel, done
	a.log.Info("subscribed", "sources", len(names))
	return nil
}

func (a *App) stopIntakeLocked() {
	if a.stopIntake == nil {
		return
	}
	a.stopIntake()
	<-a.intakeDone
	a.stopIntake, a.intakeDone = nil, nil
}

// Serve runs the whole system and the operator API until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop()

	err := a.Server().Serve(ctx, a.cfg.Server.Host, a.cfg.Server.Port)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
