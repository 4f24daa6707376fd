package services

import "sync"

// DailyCounter counts actionable items per original keyword since the last
// flush. Safe for concurrent use.
type DailyCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewDailyCounter() *DailyCounter {
	return &DailyCounter{counts: make(map[string]int)}
}

// Increment adds n to keyword. Non-positive n is ignored.
func (c *DailyCounter) Increment(keyword string, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.counts[keyword] += n
	c.mu.Unlock()
}

// Snapshot returns a copy of the current counts.
func (c *DailyCounter) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Flush returns the current counts and clears them in one step, so no
// increment can fall between the read and the reset.
func (c *DailyCounter) Flush() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.counts
	c.counts = make(map[string]int)
	return out
}
