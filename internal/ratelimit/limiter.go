package ratelimit

import (
	"context"
)

// Store holds one token bucket per client key. MemoryStore serves a single
// relay instance.
type Store interface {
	// Allow consumes a token for key and reports the tokens left.
	Allow(ctx context.Context, key string, capacity, refillRate float64) (allowed bool, remaining float64, err error)
	// Remaining reports the tokens left for key without consuming one.
	Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error)
	// Reset refills the bucket for key.
	Reset(ctx context.Context, key string) error
	Close() error
}

// Config holds configuration for the rate limiter.
type Config struct {
	// Storage backend (optional, defaults to MemoryStore)
	Store Store

	// TurnsPerMinute is the sustained rate of chat turns per client.
	TurnsPerMinute float64
	// Burst is how many turns a client may start back to back.
	Burst float64
}

// Limiter bounds how fast a single client can start chat turns.
type Limiter struct {
	store      Store
	capacity   float64
	refillRate float64 // tokens per second
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	if cfg.TurnsPerMinute <= 0 {
		cfg.TurnsPerMinute = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		store:      store,
		capacity:   cfg.Burst,
		refillRate: cfg.TurnsPerMinute / 60,
	}
}

// Allow consumes a token for key. An empty key is never limited and store
// errors fail open.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, float64) {
	if key == "" {
		return true, l.capacity
	}
	allowed, remaining, err := l.store.Allow(ctx, key, l.capacity, l.refillRate)
	if err != nil {
		return true, l.capacity
	}
	return allowed, remaining
}

// Remaining returns the tokens left for key.
func (l *Limiter) Remaining(ctx context.Context, key string) float64 {
	if key == "" {
		return l.capacity
	}
	remaining, err := l.store.Remaining(ctx, key, l.capacity, l.refillRate)
	if err != nil {
		return l.capacity
	}
	return remaining
}

// Reset refills the bucket for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// Capacity is the burst size.
func (l *Limiter) Capacity() float64 { return l.capacity }

// Close stops the limiter and releases resources.
func (l *Limiter) Close() error {
	return l.store.Close()
}
