package testutil

import (
	"sync"
	"time"
)

// VirtualClock is a clock for tests whose After fires immediately after
// advancing virtual time by the requested delay. Every delay is recorded so
// backoff schedules can be asserted without sleeping.
//
// Thread-safety: all methods are safe for concurrent use.
type VirtualClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

// NewVirtualClock returns a clock starting at start
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now returns the current virtual time
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances virtual time by d and returns a channel that already holds
// the new time.
func (c *VirtualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves virtual time forward without recording a delay
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Delays returns every delay passed to After, in order
func (c *VirtualClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}
