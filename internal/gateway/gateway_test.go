package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/logging"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

type chanSubscriber struct {
	msgs []models.RawMessage
	err  error
}

func (s *chanSubscriber) Subscribe(ctx context.Context, _ []string) (<-chan models.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan models.RawMessage, len(s.msgs))
	for _, m := range s.msgs {
		ch <- m
	}
	close(ch)
	return ch, nil
}

type stubHistory struct{ name string }

func (h *stubHistory) FetchRecent(_ context.Context, source string, _ int) ([]models.RawMessage, error) {
	return []models.RawMessage{{Source: h.name + ":" + source}}, nil
}

type stubPublisher struct {
	published int
	failEdit  bool
}

func (p *stubPublisher) Publish(context.Context, string) (int64, error) {
	p.published++
	return int64(p.published), nil
}

func (p *stubPublisher) Edit(context.Context, int64, string) error {
	if p.failEdit {
		return errors.New("edit failed")
	}
	return nil
}

func (p *stubPublisher) Delete(context.Context, int64) error { return nil }

type memCounter struct{ n int }

func (c *memCounter) IncrementRate(time.Time) (int, error) {
	c.n++
	return c.n, nil
}

func TestCompositeSubscribeFansIn(t *testing.T) {
	c := &Composite{
		Subscribers: []Subscriber{
			&chanSubscriber{msgs: []models.RawMessage{{Permalink: "a"}, {Permalink: "b"}}},
			&chanSubscriber{err: errors.New("down")},
			&chanSubscriber{msgs: []models.RawMessage{{Permalink: "c"}}},
		},
		Logger: logging.Discard(),
	}
	ch, err := c.Subscribe(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := map[string]bool{}
	for m := range ch {
		seen[m.Permalink] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 messages from the healthy subscribers, got %v", seen)
	}
}

func TestCompositeSubscribeAllFail(t *testing.T) {
	c := &Composite{Subscribers: []Subscriber{&chanSubscriber{err: errors.New("down")}}, Logger: logging.Discard()}
	if _, err := c.Subscribe(context.Background(), nil); err == nil {
		t.Error("expected error when no subscriber starts")
	}
}

func TestCompositeFetchRecentRoutes(t *testing.T) {
	c := &Composite{Channels: &stubHistory{name: "tg"}, Feeds: &stubHistory{name: "rss"}}

	msgs, _ := c.FetchRecent(context.Background(), "news", 10)
	if msgs[0].Source != "tg:news" {
		t.Errorf("expected channel history, got %q", msgs[0].Source)
	}
	msgs, _ = c.FetchRecent(context.Background(), "https://example.com/rss", 10)
	if msgs[0].Source != "rss:https://example.com/rss" {
		t.Errorf("expected feed history, got %q", msgs[0].Source)
	}

	c.Feeds = nil
	if _, err := c.FetchRecent(context.Background(), "https://example.com/rss", 10); !errors.Is(err, ErrNoHistory) {
		t.Errorf("expected ErrNoHistory, got %v", err)
	}
}

func TestCountedCountsSuccessOnly(t *testing.T) {
	pub := &stubPublisher{failEdit: true}
	counter := &memCounter{}
	c := NewCounted(pub, counter, 1, logging.Discard())

	c.Publish(context.Background(), "a")
	c.Publish(context.Background(), "b")
	if err := c.Edit(context.Background(), 1, "c"); err == nil {
		t.Fatal("expected edit error to pass through")
	}
	if counter.n != 2 {
		t.Errorf("expected 2 counted publications, got %d", counter.n)
	}
	if pub.published != 2 {
		t.Errorf("publishing must not be gated by the limit, got %d", pub.published)
	}
}

type closingPublisher struct {
	stubPublisher
	closed int
}

func (p *closingPublisher) FetchRecent(context.Context, string, int) ([]models.RawMessage, error) {
	return nil, nil
}

func (p *closingPublisher) Close() error {
	p.closed++
	return nil
}

func TestCompositeCloseOnce(t *testing.T) {
	pub := &closingPublisher{}
	c := &Composite{Out: pub, Channels: pub, Feeds: &stubHistory{}}
	c.Subscribers = []Subscriber{&chanSubscriber{}}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if pub.closed != 1 {
		t.Errorf("expected publisher closed once, got %d", pub.closed)
	}
}
