// Package gateway defines the contracts between the core and the upstream
// message transport, and the helpers that combine several transports.
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

// Subscriber streams inbound messages from the given sources until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, sources []string) (<-chan models.RawMessage, error)
}

// Publisher writes to the output channel.
type Publisher interface {
	Publish(ctx context.Context, text string) (int64, error)
	Edit(ctx context.Context, ref int64, text string) error
	Delete(ctx context.Context, ref int64) error
}

// History reads recent messages of a single source.
type History interface {
	FetchRecent(ctx context.Context, source string, limit int) ([]models.RawMessage, error)
}

// Gateway is the whole transport surface used by the core.
type Gateway interface {
	Subscriber
	Publisher
	History
	Close() error
}

// ErrNoHistory is returned when no history reader handles a source.
var ErrNoHistory = errors.New("no history reader for source")

// IsFeedURL reports whether source names an RSS/Atom feed rather than a channel.
func IsFeedURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Composite joins several subscribers, one publisher and per-kind history readers.
type Composite struct {
	Subscribers []Subscriber
	Out         Publisher
	Channels    History
	Feeds       History
	Buffer      int
	Logger      *slog.Logger
}

var _ Gateway = (*Composite)(nil)

// Subscribe fans every subscriber into one bounded channel.
func (c *Composite) Subscribe(ctx context.Context, sources []string) (<-chan models.RawMessage, error) {
	return Fanout(ctx, c.Subscribers, sources, c.Buffer, c.logger())
}

// Fanout starts every subscriber and merges their streams into one channel
// of the given capacity. A subscriber that fails to start is logged and
// skipped; Fanout only fails when none could start. The merged channel
// closes once every inner stream has closed.
func Fanout(ctx context.Context, subs []Subscriber, sources []string, buffer int, logger *slog.Logger) (<-chan models.RawMessage, error) {
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan models.RawMessage, buffer)

	var wg sync.WaitGroup
	var lastErr error
	started := 0
	for _, sub := range subs {
		ch, err := sub.Subscribe(ctx, sources)
		if err != nil {
			logger.Error("subscriber failed to start", "error", err)
			lastErr = err
			continue
		}
		started++
		wg.Add(1)
		go func(ch <-chan models.RawMessage) {
			defer wg.Done()
			for m := range ch {
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	if started == 0 && lastErr != nil {
		close(out)
		return nil, lastErr
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (c *Composite) Publish(ctx context.Context, text string) (int64, error) {
	return c.Out.Publish(ctx, text)
}

func (c *Composite) Edit(ctx context.Context, ref int64, text string) error {
	return c.Out.Edit(ctx, ref, text)
}

func (c *Composite) Delete(ctx context.Context, ref int64) error {
	return c.Out.Delete(ctx, ref)
}

// FetchRecent routes feed URLs to Feeds and everything else to Channels.
func (c *Composite) FetchRecent(ctx context.Context, source string, limit int) ([]models.RawMessage, error) {
	h := c.Channels
	if IsFeedURL(source) {
		h = c.Feeds
	}
	if h == nil {
		return nil, ErrNoHistory
	}
	return h.FetchRecent(ctx, source, limit)
}

// Close closes every component that holds a connection.
func (c *Composite) Close() error {
	var errs []error
	seen := map[any]bool{}
	parts := []any{c.Out, c.Channels, c.Feeds}
	for _, s := range c.Subscribers {
		parts = append(parts, s)
	}
	for _, p := range parts {
		closer, ok := p.(io.Closer)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Composite) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
