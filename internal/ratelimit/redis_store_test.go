package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return clock }
	return store, mr, &clock
}

func TestRedisStore_BurstRefillAndReset(t *testing.T) {
	store, mr, clock := newRedisStore(t)
	l := NewLimiter(Config{Store: store, TurnsPerMinute: 60, Burst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "198.51.100.4"); !ok {
			t.Fatalf("turn %d should be allowed", i)
		}
	}
	if ok, _ := l.Allow(ctx, "198.51.100.4"); ok {
		t.Fatal("third turn should be refused")
	}
	if !mr.Exists("sheet:ratelimit:198.51.100.4") {
		t.Fatal("bucket key not written")
	}

	*clock = clock.Add(1500 * time.Millisecond)
	if got := l.Remaining(ctx, "198.51.100.4"); got < 1.49 || got > 1.51 {
		t.Fatalf("remaining after 1.5s = %f", got)
	}
	if ok, _ := l.Allow(ctx, "198.51.100.4"); !ok {
		t.Fatal("refilled turn should be allowed")
	}

	if err := l.Reset(ctx, "198.51.100.4"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if mr.Exists("sheet:ratelimit:198.51.100.4") {
		t.Fatal("reset should delete the bucket")
	}
}

func TestRedisStore_FailsOpenWhenRedisIsGone(t *testing.T) {
	store, mr, _ := newRedisStore(t)
	l := NewLimiter(Config{Store: store, TurnsPerMinute: 1, Burst: 1})
	mr.Close()

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(context.Background(), "198.51.100.9"); !ok {
			t.Fatalf("turn %d should be allowed while redis is down", i)
		}
	}
}

func TestNewRedisStore_BadURL(t *testing.T) {
	if _, err := NewRedisStore("redis://:bad:url"); err == nil {
		t.Fatal("expected parse error")
	}
}
