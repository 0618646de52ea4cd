package digest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type ScheduleOptions struct {
	Interval time.Duration
	Offset   time.Duration
	Location *time.Location
}

// State is what the status endpoint reports about the scheduler.
type State struct {
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastItems int        `json:"last_items"`
	LastError string     `json:"last_error,omitempty"`
}

// Scheduler fires the flusher on aligned wall-clock boundaries.
type Scheduler struct {
	flusher *Flusher
	opts    ScheduleOptions
	log     *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(flusher *Flusher, opts ScheduleOptions, logger *slog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		flusher: flusher,
		opts:    opts,
		log:     logger.With("component", "scheduler"),
		now:     time.Now,
		state:   State{Interval: opts.Interval.String()},
	}
}

// Start begins firing in the background. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.state.Running = true
	go s.loop(ctx, s.done)
	s.log.Info("digest scheduler started", "interval", s.opts.Interval, "offset", s.opts.Offset, "timezone", s.opts.Location.String())
}

// Stop cancels future firings and waits for the loop to exit. A flush in
// progress finishes with a cancelled context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.state.Running = false
	s.state.NextRun = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("digest scheduler stopped")
}

// Trigger flushes the window currently in progress.
func (s *Scheduler) Trigger(ctx context.Context) (*Result, error) {
	w := CurrentWindow(s.now(), s.opts.Interval, s.opts.Offset, s.opts.Location)
	return s.run(ctx, w)
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := NextFire(s.now(), s.opts.Interval, s.opts.Offset, s.opts.Location)
		s.mu.Lock()
		s.state.NextRun = &next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.run(ctx, ScheduledWindow(next, s.opts.Interval)); err != nil {
			s.log.Error("scheduled digest failed", "error", err)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, w Window) (*Result, error) {
	res, err := s.flusher.Flush(ctx, w)
	if errors.Is(err, ErrFlushInProgress) {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	s.state.LastRun = &now
	s.state.LastError = ""
	s.state.LastItems = 0
	if err != nil {
		s.state.LastError = err.Error()
	} else {
		s.state.LastItems = res.Items
	}
	s.mu.Unlock()
	return res, err
}
