package automation

import (
	"context"
	"math/rand/v2"
	"time"
)

// Clock abstracts time so retry and pacing are testable.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// RandFunc returns a float in [0, 1).
type RandFunc func() float64

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SystemRand draws from the process-wide source.
func SystemRand() float64 { return rand.Float64() }
