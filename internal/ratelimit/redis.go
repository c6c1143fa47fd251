package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/tillguard/internal/clock"
)

// tokenBucketScript refills and consumes atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = now (unix seconds, microsecond precision)
// ARGV[4] = ttl seconds
// Tokens are returned as a string; Lua numbers would be truncated to integers.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tostring(tokens), "last_refill", tostring(last_refill))
redis.call("EXPIRE", key, ttl)

return {allowed, tostring(tokens)}
`)

// RedisLimiter is a token bucket shared through Redis. Keys expire once a
// bucket would have refilled to capacity, which replaces the in-memory sweep.
type RedisLimiter struct {
	client redis.UniversalClient
	policy Policy
	prefix string
	clock  clock.Clock
}

// NewRedisLimiter creates a RedisLimiter for p. Keys are stored under
// "<prefix>:<policy>:<key>".
func NewRedisLimiter(client redis.UniversalClient, p Policy, prefix string, c clock.Clock) (*RedisLimiter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "tillguard:ratelimit"
	}
	if c == nil {
		c = clock.System{}
	}
	return &RedisLimiter{client: client, policy: p, prefix: prefix, clock: c}, nil
}

func (r *RedisLimiter) ttlSeconds() int {
	return int(math.Ceil(float64(r.policy.Capacity)/r.policy.PerSecond())) + 1
}

// Consume takes one token for key.
func (r *RedisLimiter) Consume(ctx context.Context, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s:%s", r.prefix, r.policy.Name, key)
	now := float64(r.clock.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, r.client, []string{redisKey},
		r.policy.PerSecond(), r.policy.Capacity, now, r.ttlSeconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit %s: %w", r.policy.Name, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis rate limit %s: unexpected reply %v", r.policy.Name, res)
	}

	allowed, _ := res[0].(int64)
	raw, _ := res[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit %s: parse tokens %q: %w", r.policy.Name, raw, err)
	}

	if allowed == 1 {
		return Decision{Allowed: true, Remaining: int(tokens)}, nil
	}
	return Decision{Allowed: false, RetryAfter: retryAfter(r.policy, tokens)}, nil
}

// Reset forgets key.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s:%s", r.prefix, r.policy.Name, key)
	if err := r.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("redis rate limit reset: %w", err)
	}
	return nil
}
