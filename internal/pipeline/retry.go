package pipeline

import (
	"context"
	"math/rand"
	"time"
)

// StageCategory groups stages by the kind of work they do, which drives
// how aggressively their collaborator calls are retried.
type StageCategory string

const (
	// CategoryNetwork covers code generation, test execution and version
	// control, which mostly block on external services.
	CategoryNetwork StageCategory = "network"
	// CategoryLocal covers mapping and analysis, which are local
	// computation and rarely benefit from retries.
	CategoryLocal StageCategory = "local"
)

// RetryPolicy applies exponential backoff with jitter around collaborator
// calls. One policy instance per stage category replaces per-call-site
// retry loops.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Backoff ceiling

	// Sleep is injectable for tests; defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy returns a policy with the given attempt budget and
// sensible backoff bounds.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    30 * time.Second,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn, retrying on transient errors until the attempt budget is
// exhausted or the context is cancelled. It returns the number of retries
// performed alongside the final error.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) (retries int, err error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) || attempt >= p.MaxAttempts {
			return attempt - 1, err
		}

		delay := p.backoff(attempt)
		if serr := sleep(ctx, delay); serr != nil {
			return attempt - 1, err
		}
	}
}

// backoff computes the delay before retry number attempt (1-indexed),
// doubling each time with up to 25% random jitter, capped at MaxDelay.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay << uint(attempt-1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
