package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/agentica-ai/knowledgebase/internal/core"
)

// RetryPolicy describes how a failing AI call is repeated.
//
// MaxAttempts: total calls including the first one.
// BaseDelay:   wait after the first failure; doubled after each further failure.
// MaxJitter:   upper bound of the random delay added to every wait.
// Retryable:   decides whether an error is worth another attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration
	Retryable   func(error) bool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries transient overload errors 3 times with 1s, 2s backoff plus up to 1s jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxJitter:   time.Second,
		Retryable:   IsTransient,
	}
}

// NoRetry calls once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// WithSleep returns a copy of p that waits with fn instead of a timer.
func (p RetryPolicy) WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryPolicy {
	p.sleep = fn
	return p
}

// Delay is the wait after the given failed attempt (1-based), without jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// Retry runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// A final error that is transient comes back wrapped in core.ErrAIOverloaded.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var zero T
	for attempt := 1; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if attempt >= attempts || p.Retryable == nil || !p.Retryable(err) {
			return zero, markOverloaded(err)
		}

		wait := p.Delay(attempt)
		if p.MaxJitter > 0 {
			wait += rand.N(p.MaxJitter)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return zero, errors.Join(err, serr)
		}
	}
}

// markOverloaded tags a transient AI failure so callers can match it with errors.Is.
func markOverloaded(err error) error {
	if errors.Is(err, core.ErrAIOverloaded) || !IsTransient(err) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrAIOverloaded, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var transientMarkers = []string{
	"429",
	"503",
	"overloaded",
	"service unavailable",
	"resource_exhausted",
	"resourceexhausted",
	"code = unavailable",
	"too many requests",
}

// IsTransient reports whether err looks like a rate-limit or overload response.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == 429 || gerr.Code == 503) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
