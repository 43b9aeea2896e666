package testutil

import (
	"sync"
	"time"
)

// Epoch is where NewClock starts.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a manual time source for backends that stamp dates
// (jcr:created, jcr:lastModified, journal events). Now returns the current
// time and then moves it forward by the step, so consecutive stamps are
// distinct and every run produces the same dates.
//
// A Clock is safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock returns a clock at Epoch that advances one second per reading.
func NewClock() *Clock {
	return &Clock{now: Epoch, step: time.Second}
}

// NewFrozenClock returns a clock stuck at t until Set or Advance moves it.
func NewFrozenClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now has the shape of time.Now so it can be injected with store.WithClock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the time the next Now will report.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps to t. Moving backwards is allowed; it lets tests produce
// journals with out-of-order dates.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
