package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// tokenBucketScript refills and consumes atomically. Tokens come back as a
// string so fractional buckets survive the Lua to Redis integer conversion.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'updated_at')
local tokens = tonumber(bucket[1])
local updated_at = tonumber(bucket[2])
if tokens == nil or updated_at == nil then
    tokens = capacity
    updated_at = now
end

tokens = math.min(capacity, tokens + math.max(0, now - updated_at) * rate)

local allowed = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'updated_at', tostring(now))
redis.call('EXPIRE', key, math.ceil(capacity / rate) + 60)
return {allowed, tostring(tokens)}
`)

// RedisStore shares token buckets between relay instances.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to addr, either host:port or a redis:// URL.
func NewRedisStore(addr string) (*RedisStore, error) {
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: ping redis: %w", err)
	}
	return &RedisStore{client: client, prefix: "sheet:ratelimit:", now: time.Now}, nil
}

func (s *RedisStore) Allow(ctx context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	return s.take(ctx, key, capacity, refillRate, 1)
}

func (s *RedisStore) Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error) {
	_, remaining, err := s.take(ctx, key, capacity, refillRate, 0)
	return remaining, err
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) take(ctx context.Context, key string, capacity, refillRate float64, n int) (bool, float64, error) {
	now := float64(s.now().UnixNano()) / 1e9
	res, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + key},
		capacity, refillRate, strconv.FormatFloat(now, 'f', 6, 64), n).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	allowed, _ := res[0].(int64)
	tokens, _ := res[1].(string)
	remaining, err := strconv.ParseFloat(tokens, 64)
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: parse tokens %q: %w", tokens, err)
	}
	return allowed == 1, remaining, nil
}
