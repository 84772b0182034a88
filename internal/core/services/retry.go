package services

import (
	"context"
	"errors"
	"time"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// Blocking points named on timeout errors.
const (
	opEmbedding  = "embedding"
	opGeneration = "generation"
	opIndexWrite = "index_write"
)

// retryPolicy runs a backend call under a per-attempt deadline.
//
// An attempt that hits its own deadline fails with *domain.TimeoutError and
// is not retried. Unavailable and rate-limited failures are retried with
// capped exponential backoff. Anything else is returned as-is.
type retryPolicy struct {
	op      string
	timeout time.Duration
	retry   domain.RetrySettings

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func newRetryPolicy(op string, timeout time.Duration, retry domain.RetrySettings) retryPolicy {
	return retryPolicy{op: op, timeout: timeout, retry: retry, sleep: sleepContext}
}

// do calls fn until it succeeds, fails permanently or attempts run out.
func (p retryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.retry.InitialBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrTimeout) || !domain.IsRetryable(err) || attempt == attempts {
			return err
		}

		logger.Debug("%s attempt %d/%d failed, retrying in %s: %v", p.op, attempt, attempts, backoff, err)
		if serr := p.sleep(ctx, backoff); serr != nil {
			return serr
		}
		backoff *= 2
		if p.retry.MaxBackoff > 0 && backoff > p.retry.MaxBackoff {
			backoff = p.retry.MaxBackoff
		}
	}
	return err
}

func (p retryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &domain.TimeoutError{Op: p.op, After: p.timeout}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
