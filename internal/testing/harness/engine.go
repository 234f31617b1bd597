package harness

import (
	"time"

	"xhspilot/internal/automation"
)

// NewEngine wires an engine over page with a fake clock and a mid-range
// random source, so every jittered wait equals its base duration.
func NewEngine(page automation.Page) (*automation.Engine, *FakeClock) {
	clk := NewFakeClock()
	opts := automation.DefaultOptions()
	opts.Clock = clk
	opts.Rand = FixedRand(0.5)
	opts.Timings.TagSettle = 3 * time.Second
	return automation.NewEngine(page, opts), clk
}
