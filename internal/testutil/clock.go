package testutil

import (
	"sync"
	"time"
)

// StepClock is a deterministic wall clock for tests: every Now advances it
// by a fixed step, so recorded timestamps are reproducible.
//
// Thread-safety: all methods are safe for concurrent use.
type StepClock struct {
	mu    sync.Mutex
	base  time.Time
	step  time.Duration
	ticks int64
}

// NewStepClock creates a clock whose first Now returns base+step.
func NewStepClock(base time.Time, step time.Duration) *StepClock {
	return &StepClock{base: base, step: step}
}

// Now advances the clock one step and returns the new time.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.base.Add(time.Duration(c.ticks) * c.step)
}

// Ticks is the number of Now calls so far.
func (c *StepClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to base.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
