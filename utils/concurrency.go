package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces out calls to an API with a per-client rate limit. The
// first Wait returns immediately; later ones block until interval has
// passed since the previous one.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle creates a Throttle allowing one call per interval.
// A non-positive interval disables throttling.
func NewThrottle(interval time.Duration) *Throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next call is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// URLSet is a thread-safe set for tracking visited URLs.
type URLSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[url]; exists {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

