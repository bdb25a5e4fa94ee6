package clock

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock reads so time-sensitive logic (retry
// scheduling, overdue re-checks, effective dates) can be tested
// deterministically.
type Clock interface {
	UTCNow() time.Time
}

type realClock struct{}

// New returns a Clock backed by the system clock.
func New() Clock {
	return realClock{}
}

func (realClock) UTCNow() time.Time {
	return time.Now().UTC()
}

// TestClock is a manually advanced Clock for tests.
type TestClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewTestClock returns a TestClock frozen at the given instant.
func NewTestClock(now time.Time) *TestClock {
	return &TestClock{now: now.UTC()}
}

func (c *TestClock) UTCNow() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// SetTime moves the clock to the given instant.
func (c *TestClock) SetTime(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}

// AddTime advances the clock by d.
func (c *TestClock) AddTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AddDays advances the clock by whole days.
func (c *TestClock) AddDays(days int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, days)
}
