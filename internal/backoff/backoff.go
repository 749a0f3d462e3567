// Package backoff runs operations with bounded exponential-backoff retries.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Policy controls how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration

	// RetryIf decides whether a failed attempt may be retried. Nil means
	// IsRetryable.
	RetryIf func(error) bool
}

// DefaultPolicy returns 3 attempts starting at 1s, doubling, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		BackoffFactor: 2,
		MaxDelay:      10 * time.Second,
	}
}

// RetryAll is a RetryIf that retries every non-permanent error.
func RetryAll(err error) bool {
	var p *permanentError
	return !errors.As(err, &p)
}

// Delay returns the wait applied after the given failed attempt (1-based):
// min(InitialDelay * BackoffFactor^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	d := float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) shouldRetry(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return IsRetryable(err)
}

// Stats are cumulative attempt counters over every Execute call of an
// executor.
type Stats struct {
	Total   int
	Success int
	Failure int
}

// SuccessRate is the rounded percentage of successful attempts.
func (s Stats) SuccessRate() int {
	if s.Total == 0 {
		return 0
	}
	return int(math.Round(float64(s.Success) / float64(s.Total) * 100))
}

// Executor applies a Policy. It is safe for concurrent use; per-call retry
// state is never shared between calls.
type Executor struct {
	policy Policy
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error

	mu    sync.Mutex
	stats Stats
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for retry messages.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// New creates an executor. A non-positive MaxAttempts is treated as 1.
func New(policy Policy, opts ...Option) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	e := &Executor{
		policy: policy,
		logger: slog.Default(),
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "backoff")
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Execute runs op until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done. The last error is returned.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		lastErr = op(ctx, attempt)
		e.record(lastErr == nil)
		if lastErr == nil {
			return nil
		}

		if !e.policy.shouldRetry(lastErr) {
			e.logger.Debug("attempt failed, not retryable", "attempt", attempt, "error", lastErr)
			break
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.policy.Delay(attempt)
		e.logger.Debug("attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", e.policy.MaxAttempts,
			"delay", delay,
			"error", lastErr)

		if err := e.sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("%w (last error: %v)", err, lastErr)
			break
		}
	}

	return unwrapPermanent(lastErr)
}

// Do is Execute for operations that produce a value.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, func(ctx context.Context, attempt int) error {
		v, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Stats returns a snapshot of the cumulative counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Reset zeroes the cumulative counters.
func (e *Executor) Reset() {
	e.mu.Lock()
	e.stats = Stats{}
	e.mu.Unlock()
}

func (e *Executor) record(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Total++
	if ok {
		e.stats.Success++
	} else {
		e.stats.Failure++
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
