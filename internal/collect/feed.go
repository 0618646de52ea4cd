// Package collect turns RSS/Atom feeds into a message source.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/gateway"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

const maxPerFeed = 20

// FeedOptions configures feed polling. Names maps feed URLs to display names.
type FeedOptions struct {
	Interval   time.Duration
	Names      map[string]string
	HTTPClient *http.Client
}

// FeedSubscriber polls feeds and emits items published after the previous poll.
type FeedSubscriber struct {
	opts      FeedOptions
	parser    *gofeed.Parser
	extractor *Extractor
	log       *slog.Logger
	now       func() time.Time
}

var (
	_ gateway.Subscriber = (*FeedSubscriber)(nil)
	_ gateway.History    = (*FeedSubscriber)(nil)
)

func NewFeedSubscriber(opts FeedOptions, logger *slog.Logger) *FeedSubscriber {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Minute
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "autonews/1.0 (news aggregator)"
	return &FeedSubscriber{
		opts:      opts,
		parser:    parser,
		extractor: NewExtractor(client),
		log:       logger.With("component", "feeds"),
		now:       time.Now,
	}
}

// Subscribe polls every feed URL in sources. The first poll only records
// what is already published; later polls emit newer items, oldest first.
func (f *FeedSubscriber) Subscribe(ctx context.Context, sources []string) (<-chan models.RawMessage, error) {
	var feeds []string
	for _, s := range sources {
		if gateway.IsFeedURL(s) {
			feeds = append(feeds, s)
		}
	}
	out := make(chan models.RawMessage)
	if len(feeds) == 0 {
		close(out)
		return out, nil
	}

	var wg sync.WaitGroup
	for _, feedURL := range feeds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.watch(ctx, feedURL, out)
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	f.log.Info("polling feeds", "feeds", len(feeds), "interval", f.opts.Interval)
	return out, nil
}

func (f *FeedSubscriber) watch(ctx context.Context, feedURL string, out chan<- models.RawMessage) {
	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()

	seen := make(map[string]bool)
	first := true
	for {
		msgs, err := f.fetch(ctx, feedURL, 0)
		if err != nil {
			f.log.Warn("feed poll failed", "feed", feedURL, "error", err)
		}
		for _, m := range msgs {
			if seen[m.Permalink] {
				continue
			}
			seen[m.Permalink] = true
			if first {
				continue
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
		if err == nil {
			first = false
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// FetchRecent returns up to limit of the newest items of a feed, oldest first.
func (f *FeedSubscriber) FetchRecent(ctx context.Context, source string, limit int) ([]models.RawMessage, error) {
	return f.fetch(ctx, source, limit)
}

func (f *FeedSubscriber) fetch(ctx context.Context, feedURL string, limit int) ([]models.RawMessage, error) {
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", feedURL, err)
	}
	if limit <= 0 || limit > maxPerFeed {
		limit = maxPerFeed
	}

	title := f.opts.Names[feedURL]
	if title == "" {
		title = strings.TrimSpace(feed.Title)
	}
	if title == "" {
		title = extractSourceName(feedURL)
	}

	var msgs []models.RawMessage
	for _, item := range feed.Items {
		if len(msgs) >= limit {
			break
		}
		if m, ok := f.toRaw(ctx, item, feedURL, title); ok {
			msgs = append(msgs, m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Date.Before(msgs[j].Date) })
	return msgs, nil
}

func (f *FeedSubscriber) toRaw(ctx context.Context, item *gofeed.Item, feedURL, title string) (models.RawMessage, bool) {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	headline := strings.TrimSpace(item.Title)
	if link == "" || headline == "" {
		return models.RawMessage{}, false
	}

	body := item.Content
	if body == "" {
		body = item.Description
	}
	body = plainText(body)
	if body == "" && strings.HasPrefix(link, "http") {
		if text, err := f.extractor.Extract(ctx, link); err != nil {
			f.log.Debug("article extraction failed", "url", link, "error", err)
		} else {
			body = text
		}
	}

	text := headline
	if body != "" && body != headline {
		text = headline + "\n\n" + body
	}

	date := f.now()
	if item.PublishedParsed != nil {
		date = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		date = *item.UpdatedParsed
	}

	return models.RawMessage{
		Source:      feedURL,
		SourceTitle: title,
		Permalink:   link,
		Text:        text,
		Date:        date.UTC(),
		ReceivedAt:  f.now(),
	}, true
}

// plainText strips markup from a feed description.
func plainText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
