package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/gateway"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/judge"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

// Item is the payload of a high-bucket publication.
type Item struct {
	Source    string
	Permalink string
	Text      string
	Verdict   models.Verdict
}

// Outcome is the publication produced by Commit. Post.ID is zero for a new
// post and the existing id after a merge; persist stores it.
type Outcome struct {
	Post   database.PublishedRecord
	Merged bool
}

type MergeOptions struct {
	Candidates       int
	MaxContentLength int
	Separator        string
}

// Merger decides whether a high item continues a recent post and either
// edits that post or publishes a new one. Calls are serialized so two items
// never compare against the same candidate list at once.
type Merger struct {
	mu    sync.Mutex
	db    *database.DB
	judge judge.Service
	pub   gateway.Publisher
	opts  MergeOptions
	log   *slog.Logger
	now   func() time.Time
}

func NewMerger(db *database.DB, j judge.Service, pub gateway.Publisher, opts MergeOptions, logger *slog.Logger) *Merger {
	if opts.Candidates <= 0 {
		opts.Candidates = 5
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = 1600
	}
	if opts.Separator == "" {
		opts.Separator = "\n\n---\n\n"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{db: db, judge: j, pub: pub, opts: opts, log: logger.With("component", "merge"), now: time.Now}
}

// Commit asks the oracle for a related recent post, composes the body, then
// edits that post when the edit succeeds, otherwise publishes a new post.
// persist runs under the same lock so the next item sees this outcome among
// its candidates. persist receives nil when publishing failed; the publish
// error is returned after persist runs.
func (m *Merger) Commit(ctx context.Context, it Item, brief string, persist func(*Outcome) error) (*Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, pubErr := m.publishHigh(ctx, it, brief)
	if err := persist(out); err != nil {
		return out, err
	}
	return out, pubErr
}

func (m *Merger) publishHigh(ctx context.Context, it Item, brief string) (*Outcome, error) {
	target := m.related(ctx, it, brief)

	body, err := m.judge.Compose(ctx, judge.ModeSinglePost, judge.ComposeInput{
		Context:   brief,
		Text:      it.Text,
		Source:    it.Source,
		Permalink: it.Permalink,
		Verdict:   it.Verdict,
	})
	if err != nil {
		return nil, fmt.Errorf("composing post: %w", err)
	}

	if target != nil {
		combined := target.Content + m.opts.Separator + body
		if err := m.pub.Edit(ctx, *target.MessageRef, combined); err != nil {
			m.log.Warn("edit failed, publishing a new post", "post_id", target.ID, "error", err)
		} else {
			now := m.now()
			target.Content = combined
			target.SourceURLs = append(target.SourceURLs, it.Permalink)
			target.UpdatedAt = &now
			return &Outcome{Post: *target, Merged: true}, nil
		}
	}

	ref, err := m.pub.Publish(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("publishing post: %w", err)
	}
	return &Outcome{Post: database.PublishedRecord{
		PostType:    models.PostTypeHigh,
		Content:     body,
		SourceURLs:  []string{it.Permalink},
		MessageRef:  &ref,
		PublishedAt: m.now(),
	}}, nil
}

// related returns the candidate post the item continues, or nil.
// A failed similarity call counts as no match.
func (m *Merger) related(ctx context.Context, it Item, brief string) *database.PublishedRecord {
	candidates, err := m.candidates()
	if err != nil {
		m.log.Warn("loading merge candidates", "error", err)
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}

	contents := make([]string, len(candidates))
	for i, c := range candidates {
		contents[i] = c.Content
	}
	idx, ok, err := m.judge.FindRelated(ctx, judge.RelatedInput{
		Text:       it.Text,
		Verdict:    it.Verdict,
		Candidates: contents,
		Context:    brief,
	})
	if err != nil {
		m.log.Warn("similarity check failed, treating as new story", "error", err)
		return nil
	}
	if !ok || idx < 0 || idx >= len(candidates) {
		return nil
	}
	return &candidates[idx]
}

// candidates are the newest high posts short enough to compare and
// confirmed by the transport.
func (m *Merger) candidates() ([]database.PublishedRecord, error) {
	recent, err := m.db.RecentHighPosts(m.opts.Candidates)
	if err != nil {
		return nil, err
	}
	var out []database.PublishedRecord
	for _, p := range recent {
		if p.MessageRef == nil || utf8.RuneCountInString(p.Content) > m.opts.MaxContentLength {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
