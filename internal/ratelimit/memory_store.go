package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps token buckets in process memory.
type MemoryStore struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// NewMemoryStore creates a new in-memory rate limit store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanup(5 * time.Minute)
}

// NewMemoryStoreWithCleanup creates a store that drops idle buckets every
// cleanupInterval. A non-positive interval disables cleanup.
func NewMemoryStoreWithCleanup(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		buckets:         make(map[string]*TokenBucket),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) Allow(ctx context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	bucket := s.bucket(key, capacity, refillRate)
	allowed := bucket.Allow()
	return allowed, bucket.Remaining(), nil
}

func (s *MemoryStore) Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error) {
	return s.bucket(key, capacity, refillRate).Remaining(), nil
}

func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.RLock()
	bucket, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		bucket.Reset()
	}
	return nil
}

// Close stops background cleanup.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

// Len returns the number of tracked clients.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

func (s *MemoryStore) bucket(key string, capacity, refillRate float64) *TokenBucket {
	s.mu.RLock()
	bucket, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if bucket, ok = s.buckets[key]; ok {
		return bucket
	}
	bucket = NewTokenBucket(capacity, refillRate)
	s.buckets[key] = bucket
	return bucket
}

func (s *MemoryStore) cleanupLoop() {
	if s.cleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets that have refilled, i.e. clients that went quiet.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, bucket := range s.buckets {
		if bucket.Remaining() >= bucket.capacity {
			delete(s.buckets, key)
		}
	}
}
