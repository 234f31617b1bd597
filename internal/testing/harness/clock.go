// Package harness provides in-memory doubles for the browser surfaces so
// automation, login and workflow logic can be tested without Chrome.
package harness

import (
	"context"
	"sync"
	"time"
)

// FakeClock advances only when Sleep is called.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	Sleeps []time.Duration
}

// NewFakeClock starts at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sleeps = append(c.Sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// Total returns the summed sleep time.
func (c *FakeClock) Total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var t time.Duration
	for _, d := range c.Sleeps {
		t += d
	}
	return t
}

// Slept returns a copy of the recorded sleeps.
func (c *FakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.Sleeps...)
}

// FixedRand returns a rand source that always yields v.
func FixedRand(v float64) func() float64 {
	return func() float64 { return v }
}
