// Package brief maintains the rolling context: the single summary of what
// is currently known, read by classification and composition.
package brief

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/gateway"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/judge"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

// NoNews is reported when reinitialization finds nothing inside the window.
const NoNews = "No news available from the past 24 hours."

// ErrEmptyContext rejects blank operator edits.
var ErrEmptyContext = errors.New("context text must not be empty")

type Options struct {
	Window      time.Duration
	FetchLimit  int
	Parallelism int
	MaxLength   int
}

// Summary reports one reinitialization.
type Summary struct {
	Sources  int      `json:"sources"`
	Failed   []string `json:"failed_sources,omitempty"`
	Messages int      `json:"messages"`
	Content  string   `json:"content"`
	Replaced bool     `json:"replaced"`
}

type Maintainer struct {
	db      *database.DB
	judge   judge.Service
	history gateway.History
	opts    Options
	log     *slog.Logger
	now     func() time.Time
}

func New(db *database.DB, j judge.Service, history gateway.History, opts Options, logger *slog.Logger) *Maintainer {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 1000
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = 1200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{db: db, judge: j, history: history, opts: opts, log: logger.With("component", "brief"), now: time.Now}
}

// Current returns the rolling context, "" when never set.
func (m *Maintainer) Current() (string, error) {
	return m.db.GetContext()
}

// Reinitialize rebuilds the context from every active source's messages
// inside the trailing window. A failing source is logged and skipped.
// When nothing is found the stored context is left as it is.
func (m *Maintainer) Reinitialize(ctx context.Context) (*Summary, error) {
	sources, err := m.db.GetActiveSources()
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	cutoff := m.now().Add(-m.opts.Window)

	var (
		mu       sync.Mutex
		failed   []string
		messages []models.RawMessage
	)
	var g errgroup.Group
	g.SetLimit(m.opts.Parallelism)
	for _, src := range sources {
		g.Go(func() error {
			msgs, err := m.history.FetchRecent(ctx, src.Username, m.opts.FetchLimit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.log.Warn("fetching source history failed", "source", src.Username, "error", err)
				failed = append(failed, src.Username)
				return nil
			}
			for _, msg := range msgs {
				if msg.Date.After(cutoff) && strings.TrimSpace(msg.Text) != "" {
					if msg.Source == "" {
						msg.Source = src.Username
					}
					messages = append(messages, msg)
				}
			}
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Date.Before(messages[j].Date) })
	sort.Strings(failed)
	sum := &Summary{Sources: len(sources), Failed: failed, Messages: len(messages)}
	m.log.Info("collected messages for context", "sources", len(sources), "failed", len(failed), "messages", len(messages))

	if len(messages) == 0 {
		sum.Content = NoNews
		return sum, nil
	}

	texts := make([]string, len(messages))
	for i, msg := range messages {
		texts[i] = fmt.Sprintf("[%s] %s", label(msg.Source), strings.TrimSpace(msg.Text))
	}

	content, err := m.judge.Compose(ctx, judge.ModeContextSummary, judge.ComposeInput{Messages: texts})
	if err != nil {
		return nil, fmt.Errorf("summarizing context: %w", err)
	}
	if err := m.db.SetContext(content, m.now()); err != nil {
		return nil, fmt.Errorf("storing context: %w", err)
	}
	sum.Content = content
	sum.Replaced = true
	m.log.Info("context reinitialized", "length", len([]rune(content)))
	return sum, nil
}

// Set replaces the context with operator text.
func (m *Maintainer) Set(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyContext
	}
	if err := m.db.SetContext(text, m.now()); err != nil {
		return fmt.Errorf("storing context: %w", err)
	}
	m.log.Info("context set by operator", "length", len([]rune(text)))
	return nil
}

// Merge folds one event into the current context. It only runs on
// operator request.
func (m *Maintainer) Merge(ctx context.Context, event string) (string, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return "", ErrEmptyContext
	}
	current, err := m.db.GetContext()
	if err != nil {
		return "", fmt.Errorf("reading context: %w", err)
	}
	merged, err := m.judge.Compose(ctx, judge.ModeContextMerge, judge.ComposeInput{
		Context:   current,
		Event:     event,
		EventType: "operator",
	})
	if err != nil {
		return "", fmt.Errorf("merging context: %w", err)
	}
	if r := []rune(merged); len(r) > m.opts.MaxLength {
		merged = string(r[:m.opts.MaxLength])
	}
	if err := m.db.SetContext(merged, m.now()); err != nil {
		return "", fmt.Errorf("storing context: %w", err)
	}
	return merged, nil
}

func label(source string) string {
	if gateway.IsFeedURL(source) || strings.HasPrefix(source, "@") {
		return source
	}
	return "@" + source
}
