package cache

import (
	"sync"
	"time"
)

type pendingDelta struct {
	sum   float64
	start time.Time
}

// Counter coalesces increments per key over a time window. The check of
// the window and the reset happen under one lock, so concurrent callers
// never lose a delta or flush twice.
type Counter struct {
	mu      sync.Mutex
	pending map[string]*pendingDelta
	now     func() time.Time
}

// NewCounter creates a Counter. A nil clock means time.Now.
func NewCounter(now func() time.Time) *Counter {
	if now == nil {
		now = time.Now
	}
	return &Counter{pending: make(map[string]*pendingDelta), now: now}
}

// Accumulate adds delta to the pending sum of key. The first call opens a
// window. Once more than window has passed since it opened, the next call
// returns the accumulated sum including its own delta with ok set, and the
// key starts over.
func (c *Counter) Accumulate(key string, delta float64, window time.Duration) (total float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	p, exists := c.pending[key]
	if !exists {
		c.pending[key] = &pendingDelta{sum: delta, start: now}
		return 0, false
	}
	if now.Sub(p.start) > window {
		delete(c.pending, key)
		return p.sum + delta, true
	}
	p.sum += delta
	return 0, false
}
