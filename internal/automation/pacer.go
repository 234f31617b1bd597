package automation

import (
	"context"
	"time"
)

// Pacer inserts randomized waits between actions. A wait for base with ratio
// r lasts uniform(max(min, base-base*r), base+base*r).
type Pacer struct {
	clock  Clock
	rand   RandFunc
	jitter float64
}

// NewPacer builds a pacer. A nil clock or rand selects the system ones.
func NewPacer(jitter float64, clock Clock, rnd RandFunc) *Pacer {
	if clock == nil {
		clock = SystemClock{}
	}
	if rnd == nil {
		rnd = SystemRand
	}
	return &Pacer{clock: clock, rand: rnd, jitter: jitter}
}

// Duration computes one jittered wait without sleeping.
func (p *Pacer) Duration(base, min time.Duration) time.Duration {
	if base < min {
		base = min
	}
	if p.jitter <= 0 {
		return base
	}
	delta := time.Duration(float64(base) * p.jitter)
	low := base - delta
	if low < min {
		low = min
	}
	high := base + delta
	if high < low {
		high = low
	}
	return low + time.Duration(p.rand()*float64(high-low))
}

// Sleep waits a jittered interval around base, never shorter than min.
func (p *Pacer) Sleep(ctx context.Context, base, min time.Duration) error {
	return p.clock.Sleep(ctx, p.Duration(base, min))
}

// Exact waits for d without jitter.
func (p *Pacer) Exact(ctx context.Context, d time.Duration) error {
	return p.clock.Sleep(ctx, d)
}
