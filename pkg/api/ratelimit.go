package api

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const maxTrackedClients = 10000

// RateLimiter implements per-client token bucket rate limiting. Buckets live
// in an expiring LRU so idle clients age out and the tracked set stays
// bounded without a cleanup goroutine.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *lru.LRU[string, *bucket]
	limit   int
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a rate limiter allowing limit requests per window
// per client key
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: lru.NewLRU[string, *bucket](maxTrackedClients, nil, 2*window),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether a request from the given key is within its budget
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	// lookup and insert under one lock so concurrent first requests share a
	// single bucket
	rl.mu.Lock()
	b, ok := rl.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: float64(rl.limit), lastUpdate: now}
		rl.buckets.Add(key, b)
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastUpdate)
	if elapsed > 0 {
		b.tokens += elapsed.Seconds() * float64(rl.limit) / rl.window.Seconds()
		if b.tokens > float64(rl.limit) {
			b.tokens = float64(rl.limit)
		}
		b.lastUpdate = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
