// Package judge is the client of the reasoning oracle: it classifies
// messages, composes publications, and decides whether a message continues
// an already published story. Every call goes through one shared
// llm.Provider bounded by a weighted semaphore.
package judge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/llm"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

var (
	ErrEmptyResponse     = llm.ErrEmptyResponse
	ErrMalformedResponse = llm.ErrMalformedResponse
)

// Mode selects what Compose writes.
type Mode string

const (
	ModeSinglePost     Mode = "single_post"
	ModeDigest         Mode = "digest"
	ModeContextSummary Mode = "context_summary"
	ModeContextMerge   Mode = "context_merge"
)

// Service is the Judgment Service as seen by the core.
type Service interface {
	Classify(ctx context.Context, in ClassifyInput) (*models.Verdict, error)
	Compose(ctx context.Context, mode Mode, in ComposeInput) (string, error)
	// FindRelated returns the zero-based index of the candidate the text
	// continues, or false when it starts a new story.
	FindRelated(ctx context.Context, in RelatedInput) (int, bool, error)
}

type ClassifyInput struct {
	Text      string
	Source    string
	Permalink string
	Context   string
}

// DigestItem is one medium-bucket item offered to the digest composer.
type DigestItem struct {
	Source    string
	Permalink string
	Text      string
	KeyPoints []string
}

// ComposeInput carries the fields each mode reads; unused ones stay empty.
type ComposeInput struct {
	Context string

	// single_post
	Text      string
	Source    string
	Permalink string
	Verdict   models.Verdict

	// digest
	Items       []DigestItem
	WindowLabel string

	// context_summary
	Messages []string

	// context_merge
	Event     string
	EventType string
}

type RelatedInput struct {
	Text       string
	Verdict    models.Verdict
	Candidates []string
	Context    string
}

// Options tune prompts and limits.
type Options struct {
	MaxTokens        int
	Concurrency      int
	Voice            []string
	Signature        string
	ContextMaxLength int
}

// Oracle implements Service on top of an LLM provider.
type Oracle struct {
	provider llm.Provider
	opts     Options
	log      *slog.Logger
}

var _ Service = (*Oracle)(nil)

// New wraps provider so at most opts.Concurrency calls are in flight.
func New(provider llm.Provider, opts Options, logger *slog.Logger) *Oracle {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	if opts.ContextMaxLength <= 0 {
		opts.ContextMaxLength = 1200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{
		provider: llm.NewLimited(provider, opts.Concurrency),
		opts:     opts,
		log:      logger.With("component", "judge"),
	}
}

func (o *Oracle) voice() string {
	if len(o.opts.Voice) == 0 {
		return "- Concise and factual"
	}
	lines := make([]string, len(o.opts.Voice))
	for i, v := range o.opts.Voice {
		lines[i] = "- " + v
	}
	return strings.Join(lines, "\n")
}

func (o *Oracle) generate(ctx context.Context, prompt string) (string, error) {
	text, err := o.provider.Generate(ctx, prompt, o.opts.MaxTokens)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if n < 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
