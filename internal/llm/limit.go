package llm

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limited caps the number of in-flight Generate calls across every caller
// sharing it.
type Limited struct {
	inner Provider
	sem   *semaphore.Weighted
}

// NewLimited wraps p so at most n requests run concurrently.
func NewLimited(p Provider, n int) *Limited {
	if n < 1 {
		n = 1
	}
	return &Limited{inner: p, sem: semaphore.NewWeighted(int64(n))}
}

// Generate returns ErrNotConfigured when no provider was available.
func (l *Limited) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if l.inner == nil {
		return "", ErrNotConfigured
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.sem.Release(1)
	return l.inner.Generate(ctx, prompt, maxTokens)
}

func (l *Limited) IsConfigured() bool {
	return l.inner != nil && l.inner.IsConfigured()
}
