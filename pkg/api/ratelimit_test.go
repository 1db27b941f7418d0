package api

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllow(t *testing.T) {
	current := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return current }

	t.Run("burst up to the limit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow("client-a"), "request %d", i)
		}
		assert.False(t, rl.Allow("client-a"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		assert.True(t, rl.Allow("client-b"))
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		assert.False(t, rl.Allow("client-a"))

		// a third of the window restores one token
		current = current.Add(20 * time.Second)
		assert.True(t, rl.Allow("client-a"))
		assert.False(t, rl.Allow("client-a"))
	})

	t.Run("refill caps at the limit", func(t *testing.T) {
		current = current.Add(time.Hour)
		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow("client-a"), "request %d", i)
		}
		assert.False(t, rl.Allow("client-a"))
	})
}

func TestRateLimiterConcurrentFirstRequests(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("client-a") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	// all goroutines must share one bucket, so only one request gets in
	assert.Equal(t, int64(1), admitted.Load())
}

func TestRateLimiterEviction(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	// fill well past the tracked-client cap; oldest buckets are evicted and
	// come back fresh
	for i := 0; i < maxTrackedClients+10; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}
	assert.True(t, rl.Allow("client-0"))
}
