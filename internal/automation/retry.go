package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
)

// RetryPolicy bounds a primitive's attempts.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// DefaultRetryPolicy is three attempts with 500ms doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second, Jitter: 0.25}
}

// Retrier runs an operation until it succeeds, fails permanently, or the
// attempt budget is spent. Between attempts it waits an exponentially
// growing, jittered delay.
type Retrier struct {
	policy RetryPolicy
	pacer  *Pacer
}

// NewRetrier builds a retrier over the given clock and random source.
func NewRetrier(policy RetryPolicy, clock Clock, rnd RandFunc) *Retrier {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Retrier{policy: policy, pacer: NewPacer(policy.Jitter, clock, rnd)}
}

// Backoff returns the un-jittered delay before attempt n+1 (n starts at 1).
func (r *Retrier) Backoff(n int) time.Duration {
	d := r.policy.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if r.policy.MaxDelay > 0 && d >= r.policy.MaxDelay {
			return r.policy.MaxDelay
		}
	}
	return d
}

// Retryable reports whether an error may succeed on a later attempt.
// Connection, launch, validation and auth failures never do.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch fault.KindOf(err) {
	case fault.KindSelectorTimeout, fault.KindInternal:
		return true
	default:
		return false
	}
}

// Do runs fn. When attempts run out the last error is promoted to a
// SelectorTimeout carrying step and target.
func (r *Retrier) Do(ctx context.Context, step, target string, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !Retryable(last) {
			return fault.WithTarget(fault.Wrap(fault.KindInternal, step, last), target)
		}
		logging.AutomationDebug("%s attempt %d/%d failed: %v", step, attempt, r.policy.Attempts, last)
		if attempt == r.policy.Attempts {
			break
		}
		if err := r.pacer.Sleep(ctx, r.Backoff(attempt), 0); err != nil {
			return err
		}
	}
	logging.AutomationWarn("%s gave up after %d attempts: %v", step, r.policy.Attempts, last)
	return &fault.Error{
		Kind:   fault.KindSelectorTimeout,
		Step:   step,
		Target: target,
		Err:    fmt.Errorf("gave up after %d attempts: %w", r.policy.Attempts, last),
	}
}
