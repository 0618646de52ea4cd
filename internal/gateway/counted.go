package gateway

import (
	"context"
	"log/slog"
	"time"
)

// RateCounter records one publication in the hour window containing at.
type RateCounter interface {
	IncrementRate(at time.Time) (int, error)
}

// Counted wraps a Publisher and counts every successful publish or edit.
// Exceeding the hourly limit is logged, never blocked.
type Counted struct {
	Publisher
	counter RateCounter
	limit   int
	log     *slog.Logger
	now     func() time.Time
}

// NewCounted wraps pub. limit <= 0 disables the warning.
func NewCounted(pub Publisher, counter RateCounter, limit int, logger *slog.Logger) *Counted {
	return &Counted{Publisher: pub, counter: counter, limit: limit, log: logger, now: time.Now}
}

func (c *Counted) Publish(ctx context.Context, text string) (int64, error) {
	ref, err := c.Publisher.Publish(ctx, text)
	if err == nil {
		c.record()
	}
	return ref, err
}

func (c *Counted) Edit(ctx context.Context, ref int64, text string) error {
	err := c.Publisher.Edit(ctx, ref, text)
	if err == nil {
		c.record()
	}
	return err
}

func (c *Counted) record() {
	n, err := c.counter.IncrementRate(c.now())
	if err != nil {
		c.log.Warn("rate counter update failed", "error", err)
		return
	}
	if c.limit > 0 && n > c.limit {
		c.log.Warn("hourly publish limit exceeded", "count", n, "limit", c.limit)
	}
}
