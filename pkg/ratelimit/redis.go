package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// slidingWindowScript trims the key's timestamp log to the window,
// counts it, and appends the new request only when under the limit. The
// script runs atomically per key, which serializes concurrent checks.
//
// KEYS[1] = window key
// ARGV[1] = now (unix micros)
// ARGV[2] = window (micros)
// ARGV[3] = limit
// Returns {allowed (0/1), observed, oldest (unix micros, 0 when empty)}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local observed = redis.call('ZCARD', key)

local allowed = 0
if observed < limit then
	-- Member must be unique per request. Two checks in the same
	-- microsecond would otherwise collapse into one ZADD and the
	-- window would admit more than the limit.
	local seq = redis.call('INCR', key .. ':seq')
	redis.call('ZADD', key, now, now .. ':' .. seq)
	redis.call('PEXPIRE', key, math.ceil(window / 1000))
	redis.call('PEXPIRE', key .. ':seq', math.ceil(window / 1000))
	allowed = 1
	observed = observed + 1
end

local oldest = 0
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end

return {allowed, observed, oldest}
`)

// RedisLimiter is a sliding-window log limiter shared across nodes.
// Stored timestamps are authoritative, which tolerates modest clock
// skew between application nodes.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a redis-backed limiter with the given window
func NewRedisLimiter(client *redis.Client, window time.Duration, prefix string) *RedisLimiter {
	if window <= 0 {
		window = time.Hour
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{
		client: client,
		window: window,
		prefix: prefix,
	}
}

// Allow checks and records a request under the key
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}, nil
	}

	now := time.Now()
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	result, err := slidingWindowScript.Run(ctx, l.client, []string{redisKey},
		now.UnixMicro(), l.window.Microseconds(), limit).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %v", result)
	}

	allowed := values[0].(int64) == 1
	observed := int(values[1].(int64))
	oldestMicros := values[2].(int64)

	reset := now.Add(l.window)
	if oldestMicros > 0 {
		reset = time.UnixMicro(oldestMicros).Add(l.window)
	}

	return Decision{
		Allowed:  allowed,
		Observed: observed,
		Limit:    limit,
		Wait:     waitAdvice(reset.Sub(now), limit, observed),
		Reset:    reset,
	}, nil
}

// Reset clears the window for a key (admin and test use)
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	return l.client.Del(ctx, redisKey, redisKey+":seq").Err()
}

// HealthCheck verifies redis connectivity
func (l *RedisLimiter) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
