package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestResultCache_GetSetExpire(t *testing.T) {
	clock := newClock()
	c, err := NewResultCache(8)
	require.NoError(t, err)
	c.now = clock.Now

	c.Set("forever", 1, 0)
	c.Set("short", 2, time.Second)

	v, ok := c.Get("short")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	clock.Advance(time.Second)
	_, ok = c.Get("short")
	assert.False(t, ok)

	v, ok = c.Get("forever")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestResultCache_Tags(t *testing.T) {
	c, err := NewResultCache(8)
	require.NoError(t, err)

	c.SetTagged("users", "a", 1, 0)
	c.SetTagged("users", "b", 2, 0)
	c.SetTagged("orders", "c", 3, 0)
	c.Remove("a")

	c.ClearTag("users")
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.NotContains(t, c.tags, "users")
}

func TestResultCache_EvictionReleasesTag(t *testing.T) {
	c, err := NewResultCache(2)
	require.NoError(t, err)

	c.SetTagged("t", "a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.NotContains(t, c.tags, "t")
}

func TestResultCache_RetagOnOverwrite(t *testing.T) {
	c, err := NewResultCache(4)
	require.NoError(t, err)

	c.SetTagged("old", "k", 1, 0)
	c.SetTagged("new", "k", 2, 0)
	c.ClearTag("old")

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCounter_CoalescesWithinWindow(t *testing.T) {
	clock := newClock()
	c := NewCounter(clock.Now)
	window := 5 * time.Second

	_, ok := c.Accumulate("views", 1, window)
	assert.False(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Accumulate("views", 1, window)
	assert.False(t, ok)

	clock.Advance(5 * time.Second)
	total, ok := c.Accumulate("views", 1, window)
	require.True(t, ok)
	assert.Equal(t, float64(3), total)

	// A new window starts with the next call.
	_, ok = c.Accumulate("views", 1, window)
	assert.False(t, ok)
}

func TestCounter_ConcurrentDeltasAreNotLost(t *testing.T) {
	clock := newClock()
	c := NewCounter(clock.Now)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Accumulate("k", 1, time.Hour)
		}()
	}
	wg.Wait()

	clock.Advance(2 * time.Hour)
	total, ok := c.Accumulate("k", 0, time.Hour)
	require.True(t, ok)
	assert.Equal(t, float64(50), total)
}
