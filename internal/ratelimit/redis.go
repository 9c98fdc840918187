package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"profile-gate/internal/clock"
)

// allowScript trims the sorted set to the window, then either records the hit
// or returns the milliseconds until the oldest hit leaves the window.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry = window
	if oldest[2] then
		retry = tonumber(oldest[2]) + window - now
	end
	return {0, 0, retry}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1, 0}
`)

// RedisStore shares counters between instances. Keys expire with their window,
// so Sweep has nothing to do.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	clock  clock.Clock
}

func NewRedisStore(client redis.UniversalClient, prefix string, clk clock.Clock) *RedisStore {
	if clk == nil {
		clk = clock.System()
	}
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisStore{redis: client, prefix: prefix, clock: clk}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 {
		return Result{Allowed: false, RetryAfter: minRetry(window)}, nil
	}

	now := s.clock.Now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	raw, err := allowScript.Run(ctx, s.redis, []string{s.prefix + key}, now, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}

	if raw[0] == 1 {
		return Result{Allowed: true, Remaining: int(raw[1])}, nil
	}
	return Result{Allowed: false, RetryAfter: minRetry(time.Duration(raw[2]) * time.Millisecond)}, nil
}

func (s *RedisStore) Sweep(context.Context) error {
	return nil
}
