// Package queue is the durable ingestion queue: every accepted message is
// persisted before it is acknowledged, processed by a single consumer in
// arrival order, and recovered from the store after a restart.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

// Processor handles one dequeued message.
type Processor interface {
	Process(ctx context.Context, msg models.RawMessage) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, msg models.RawMessage) error

func (f ProcessorFunc) Process(ctx context.Context, msg models.RawMessage) error {
	return f(ctx, msg)
}

type Options struct {
	DedupWindow time.Duration
	CacheSize   int
	PopTimeout  time.Duration
	StopTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.DedupWindow <= 0 {
		o.DedupWindow = time.Hour
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 1000
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 30 * time.Second
	}
}

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	Depth     int   `json:"queue_size"`
	Enqueued  int64 `json:"total_enqueued"`
	Processed int64 `json:"total_processed"`
	Errors    int64 `json:"total_errors"`
	Pending   int64 `json:"pending"`
	Running   bool  `json:"is_running"`
}

type Queue struct {
	db     *database.DB
	proc   Processor
	log    *slog.Logger
	opts   Options
	recent *RecentCache
	items  *fifo
	now    func() time.Time

	// enqueueMu makes the dedup check and the insert one step.
	enqueueMu sync.Mutex
	recovered bool

	enqueued  atomic.Int64
	processed atomic.Int64
	errors    atomic.Int64

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(db *database.DB, proc Processor, opts Options, logger *slog.Logger) *Queue {
	opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:     db,
		proc:   proc,
		log:    logger.With("component", "queue"),
		opts:   opts,
		recent: NewRecentCache(opts.CacheSize),
		items:  newFIFO(),
		now:    time.Now,
	}
}

// Recover loads every unprocessed record from the store into memory, oldest
// first. It must run before intake starts; later calls are no-ops.
func (q *Queue) Recover() (int, error) {
	q.enqueueMu.Lock()
	defer q.enqueueMu.Unlock()
	if q.recovered {
		return 0, nil
	}

	records, err := q.db.UnprocessedQueueRecords()
	if err != nil {
		return 0, fmt.Errorf("loading unprocessed records: %w", err)
	}
	for _, r := range records {
		q.items.Push(item{id: r.ID, msg: r.Message})
		q.recent.Add(r.Message.Permalink)
	}
	q.enqueued.Add(int64(len(records)))
	q.recovered = true

	if len(records) > 0 {
		q.log.Info("recovered unprocessed messages", "count", len(records))
	}
	return len(records), nil
}

// Enqueue persists msg and schedules it for processing. It returns false
// without error for duplicates; a store failure is returned so the caller
// can redeliver.
func (q *Queue) Enqueue(msg models.RawMessage) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}

	q.enqueueMu.Lock()
	defer q.enqueueMu.Unlock()

	now := q.now()
	if q.recent.Contains(msg.Permalink) {
		q.log.Info("duplicate message rejected", "permalink", msg.Permalink, "reason", "recent")
		return false, nil
	}
	exists, err := q.db.QueueRecordExistsSince(msg.Permalink, now.Add(-q.opts.DedupWindow))
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		q.recent.Add(msg.Permalink)
		q.log.Info("duplicate message rejected", "permalink", msg.Permalink, "reason", "store")
		return false, nil
	}

	// Arrival time is ours; the dedup window and recovery order depend on it.
	msg.ReceivedAt = now
	id := uuid.NewString()
	if err := q.db.InsertQueueRecord(id, msg, msg.ReceivedAt); err != nil {
		return false, fmt.Errorf("persisting queue record: %w", err)
	}

	q.recent.Add(msg.Permalink)
	q.items.Push(item{id: id, msg: msg})
	q.enqueued.Add(1)
	q.log.Debug("message enqueued", "id", id, "permalink", msg.Permalink, "depth", q.items.Len())
	return true, nil
}

// Drain enqueues everything arriving on in until ctx ends or in closes.
func (q *Queue) Drain(ctx context.Context, in <-chan models.RawMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if _, err := q.Enqueue(msg); err != nil {
				if errors.Is(err, models.ErrInvalidMessage) {
					q.log.Warn("dropping invalid message", "error", err)
					continue
				}
				q.log.Error("enqueue failed", "permalink", msg.Permalink, "error", err)
			}
		}
	}
}

// Start launches the single consumer. Calling Start twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	if !q.running.CompareAndSwap(false, true) {
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	go q.consume(ctx, q.done)
	q.log.Info("consumer started")
}

// Stop asks the consumer to finish its in-flight item and waits up to the
// stop timeout. It returns false if the consumer had to be abandoned; the
// abandoned record stays unprocessed and is recovered on next start.
func (q *Queue) Stop() bool {
	if !q.running.CompareAndSwap(true, false) {
		return true
	}

	timer := time.NewTimer(q.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-q.done:
		q.cancel()
		q.log.Info("consumer stopped")
		return true
	case <-timer.C:
		q.cancel()
		q.log.Warn("consumer did not stop in time, abandoning in-flight message", "timeout", q.opts.StopTimeout)
		return false
	}
}

func (q *Queue) Stats() Stats {
	enq, done := q.enqueued.Load(), q.processed.Load()
	return Stats{
		Depth:     q.items.Len(),
		Enqueued:  enq,
		Processed: done,
		Errors:    q.errors.Load(),
		Pending:   enq - done,
		Running:   q.running.Load(),
	}
}

func (q *Queue) consume(ctx context.Context, done chan struct{}) {
	defer close(done)
	for q.running.Load() && ctx.Err() == nil {
		it, ok := q.items.Pop(q.opts.PopTimeout)
		if !ok {
			continue
		}
		q.handle(ctx, it)
	}
}

func (q *Queue) handle(ctx context.Context, it item) {
	if err := q.db.MarkQueueStarted(it.id, q.now()); err != nil {
		q.log.Error("marking record started", "id", it.id, "error", err)
	}

	err := q.process(ctx, it.msg)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		q.log.Warn("processing interrupted by shutdown", "id", it.id, "permalink", it.msg.Permalink)
		return
	}

	var errMsg *string
	if err != nil {
		s := err.Error()
		errMsg = &s
		q.errors.Add(1)
		q.log.Error("processing failed", "id", it.id, "permalink", it.msg.Permalink, "error", err)
	}
	if mErr := q.db.MarkQueueProcessed(it.id, q.now(), errMsg); mErr != nil {
		q.log.Error("marking record processed", "id", it.id, "error", mErr)
	}
	q.processed.Add(1)
	q.recent.Add(it.msg.Permalink)
}

func (q *Queue) process(ctx context.Context, msg models.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing: %v", r)
		}
	}()
	return q.proc.Process(ctx, msg)
}
