package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xhspilot/internal/fault"
)

func newTestRetrier(attempts int) (*Retrier, *stepClock) {
	clk := &stepClock{}
	r := NewRetrier(RetryPolicy{
		Attempts:  attempts,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  300 * time.Millisecond,
	}, clk, func() float64 { return 0.5 })
	return r, clk
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	r, clk := newTestRetrier(3)
	calls := 0
	err := r.Do(context.Background(), "click_publish", "button", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("detached node")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clk.sleeps)
}

func TestRetrier_ExhaustionPromotesToSelectorTimeout(t *testing.T) {
	r, _ := newTestRetrier(3)
	calls := 0
	err := r.Do(context.Background(), "fill_title", "input.d-text", func(ctx context.Context) error {
		calls++
		return errors.New("not found")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, fault.KindSelectorTimeout, fault.KindOf(err))
	assert.Equal(t, "fill_title", fault.StepOf(err))
	assert.Contains(t, err.Error(), "target=input.d-text")
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}

func TestRetrier_PermanentErrorsStopImmediately(t *testing.T) {
	for _, kind := range []fault.Kind{fault.KindConnection, fault.KindValidation, fault.KindAuthRequired} {
		r, clk := newTestRetrier(5)
		calls := 0
		err := r.Do(context.Background(), "navigate", "", func(ctx context.Context) error {
			calls++
			return fault.New(kind, "navigate", "boom")
		})
		assert.Equal(t, kind, fault.KindOf(err), "kind %s", kind)
		assert.Equal(t, 1, calls, "kind %s", kind)
		assert.Empty(t, clk.sleeps)
	}
}

func TestRetrier_BackoffCapped(t *testing.T) {
	r, _ := newTestRetrier(6)
	assert.Equal(t, 100*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, r.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, r.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, r.Backoff(5))
}

func TestRetrier_CancelledContext(t *testing.T) {
	r, _ := newTestRetrier(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Do(ctx, "x", "", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStep_CandidatesAndValidate(t *testing.T) {
	s := Step{Name: "title", Kind: StepType, Selector: "a", Fallbacks: []string{"", "b"}}
	assert.Equal(t, []string{"a", "b"}, s.Candidates())
	assert.NoError(t, s.Validate())
	assert.Error(t, Step{Name: "x", Kind: "hover", Selector: "a"}.Validate())
	assert.Error(t, Step{Name: "x", Kind: StepClick}.Validate())
}
