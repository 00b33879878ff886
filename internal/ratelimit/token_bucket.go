package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket refills at a constant rate and allows bursts up to its
// capacity. Safe for concurrent use.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // per second
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return newTokenBucketAt(capacity, refillRate, time.Now)
}

func newTokenBucketAt(capacity, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN consumes n tokens if they are all available.
func (tb *TokenBucket) AllowN(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens < n {
		return false
	}
	tb.tokens -= n
	return true
}

// Remaining returns the tokens currently available.
func (tb *TokenBucket) Remaining() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// Reset refills the bucket completely.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
}

// refill must be called with mu held.
func (tb *TokenBucket) refill() {
	now := tb.now()
	if elapsed := now.Sub(tb.lastRefill).Seconds(); elapsed > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
	}
	tb.lastRefill = now
}
