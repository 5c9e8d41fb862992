package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheBasics(t *testing.T) {
	c := New[string](123)

	v1 := c.Get("foo", func() (string, time.Duration, int) {
		return "bar", time.Second, 0
	})
	assert.Equal(t, "bar", v1)

	v2 := c.Get("foo", func() (string, time.Duration, int) {
		t.Error("value should be cached")
		return "", 0, 0
	})
	assert.Equal(t, "bar", v2)

	assert.True(t, c.Del("foo"))

	v3 := c.Get("foo", func() (string, time.Duration, int) {
		return "baz", time.Second, 0
	})
	assert.Equal(t, "baz", v3)
}

func TestCacheExpiration(t *testing.T) {
	c := New[string](123)

	failIfCalled := func() (string, time.Duration, int) {
		t.Error("value should still be cached")
		return "", 0, 0
	}

	v1 := c.Get("foo", func() (string, time.Duration, int) { return "bar", 5 * time.Millisecond, 0 })
	assert.Equal(t, "bar", c.Get("foo", failIfCalled))

	time.Sleep(10 * time.Millisecond)

	v2 := c.Get("foo", func() (string, time.Duration, int) { return "baz", time.Second, 0 })
	assert.NotEqual(t, v1, v2)
	assert.Equal(t, "baz", v2)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string](50)

	_ = c.Get("A", func() (string, time.Duration, int) { return "a", time.Second, 50 })
	_ = c.Get("B", func() (string, time.Duration, int) { return "b", time.Second, 50 })

	// B evicted A by exceeding the budget.
	called := false
	_ = c.Get("A", func() (string, time.Duration, int) {
		called = true
		return "a-again", time.Second, 50
	})
	assert.True(t, called, "A should have been evicted and recomputed")
}

func TestCacheSingleFlightsConcurrentMisses(t *testing.T) {
	c := New[string](100)
	var wg sync.WaitGroup
	var inflight int32

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Get("key", func() (string, time.Duration, int) {
				n := atomic.AddInt32(&inflight, 1)
				if n != 1 {
					t.Error("only one goroutine should compute a given key at a time")
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inflight, -1)
				return "value", 10 * time.Millisecond, 1
			})
		}()
	}
	wg.Wait()
}
