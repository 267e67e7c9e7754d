package ledger

import (
	"sync"
	"time"
)

// Clock produces monotonically non-decreasing UTC timestamps for this
// writer. Wall clocks can step backwards (NTP adjustment); the ledger's
// ordering guarantee is per-writer non-decreasing timestamp_utc, so Now
// clamps to the last value handed out.
//
// Across processes the global order is only as strong as the wall clock;
// ties are broken by the time-sortable event id.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock creates a clock backed by the system wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithNow creates a clock with an injected time source, for tests.
func NewClockWithNow(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current UTC time, never earlier than a previous return.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
