// Package backoff provides the retry policy shared by every long-lived
// upstream connection.
package backoff

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy is an exponential backoff: the n-th retry waits Base*Multiplier^(n-1),
// never more than Max, for at most Attempts tries in total.
type Policy struct {
	Attempts   int
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Default mirrors the reconnect behaviour of the feed transport.
func Default() Policy {
	return Policy{Attempts: 10, Base: 5 * time.Second, Multiplier: 2, Max: 5 * time.Minute}
}

// Delay returns how long to wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Base) * math.Pow(mult, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// ExhaustedError wraps the last failure after every attempt was used.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retry calls fn until it succeeds, ctx is done, or attempts run out.
// onRetry, if non-nil, is called before each wait.
func (p Policy) Retry(ctx context.Context, fn func(context.Context) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: err}
}
