// Package redis provides Redis-backed implementations of the limiter,
// revocation repository, and revocation event bus, for multi-instance
// deployments sharing one store.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/ratelimit"
)

// Each script performs the read-modify-answer cycle server-side so a
// decision is atomic per key across every gateway instance. All three
// return {allowed, remaining, millisToReset, currentUsage}.

var tokenBucketScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local burst = tonumber(ARGV[4])
local consume = tonumber(ARGV[5])

if rate == 0 then
  return {0, 0, windowMs, 0}
end

local refillPerMs = rate / windowMs

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
if tokens == nil then tokens = burst end
local last = tonumber(redis.call('HGET', key, 'refilled'))
if last == nil then last = now end

local delta = now - last
if delta < 0 then delta = 0 end
tokens = math.min(burst, tokens + delta * refillPerMs)

if tokens < 1 then
  redis.call('HSET', key, 'tokens', tokens, 'refilled', now)
  redis.call('PEXPIRE', key, windowMs * 2)
  local waitMs = math.ceil((1 - tokens) / refillPerMs)
  return {0, 0, waitMs, burst - math.floor(tokens)}
end

if consume == 1 then tokens = tokens - 1 end
redis.call('HSET', key, 'tokens', tokens, 'refilled', now)
redis.call('PEXPIRE', key, windowMs * 2)
return {1, math.floor(tokens), windowMs, burst - math.floor(tokens)}
`)

var fixedWindowScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])

local windowStart = now - (now % windowMs)
local wkey = key .. ':' .. windowStart
local count = tonumber(redis.call('GET', wkey))
if count == nil then count = 0 end
local resetMs = windowStart + windowMs - now

if count >= rate then
  return {0, 0, resetMs, count}
end
if consume == 1 then
  count = redis.call('INCR', wkey)
  redis.call('PEXPIRE', wkey, windowMs * 2)
end
return {1, rate - count, resetMs, count}
`)

var slidingWindowScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])

local windowStart = now - (now % windowMs)
local curKey = key .. ':' .. windowStart
local prevKey = key .. ':' .. (windowStart - windowMs)

local cur = tonumber(redis.call('GET', curKey))
if cur == nil then cur = 0 end
local prev = tonumber(redis.call('GET', prevKey))
if prev == nil then prev = 0 end

local elapsed = (now - windowStart) / windowMs
local weighted = cur + prev * (1 - elapsed)
local resetMs = windowStart + windowMs - now

if weighted >= rate then
  return {0, 0, resetMs, math.floor(weighted)}
end
if consume == 1 then
  cur = redis.call('INCR', curKey)
  redis.call('PEXPIRE', curKey, windowMs * 2)
  weighted = weighted + 1
end
local remaining = rate - math.floor(weighted)
if remaining < 0 then remaining = 0 end
return {1, remaining, resetMs, math.floor(weighted)}
`)

// RateLimiter implements ratelimit.Limiter against Redis.
type RateLimiter struct {
	client    goredis.UniversalClient
	algorithm ratelimit.Algorithm
	now       func() time.Time
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a Redis-backed limiter using the given
// algorithm.
func NewRateLimiter(client goredis.UniversalClient, algorithm ratelimit.Algorithm) *RateLimiter {
	return &RateLimiter{client: client, algorithm: algorithm, now: time.Now}
}

// Enabled reports that the limiter is active.
func (r *RateLimiter) Enabled() bool { return true }

// CheckAndConsume deducts one unit from the key's bucket atomically.
func (r *RateLimiter) CheckAndConsume(ctx context.Context, key ratelimit.Key, limit ratelimit.EffectiveLimit) (ratelimit.Decision, error) {
	return r.run(ctx, key, limit, true)
}

// GetStatus reports the bucket state without consuming.
func (r *RateLimiter) GetStatus(ctx context.Context, key ratelimit.Key, limit ratelimit.EffectiveLimit) (ratelimit.Decision, error) {
	return r.run(ctx, key, limit, false)
}

func (r *RateLimiter) run(ctx context.Context, key ratelimit.Key, limit ratelimit.EffectiveLimit, consume bool) (ratelimit.Decision, error) {
	now := r.now()
	nowMs := now.UnixMilli()
	windowMs := limit.Window().Milliseconds()
	consumeArg := 0
	if consume {
		consumeArg = 1
	}

	var res any
	var err error
	switch r.algorithm {
	case ratelimit.AlgorithmFixedWindow:
		res, err = fixedWindowScript.Run(ctx, r.client, []string{key.String()},
			nowMs, limit.RequestsPerWindow, windowMs, consumeArg).Result()
	case ratelimit.AlgorithmSlidingWindow:
		res, err = slidingWindowScript.Run(ctx, r.client, []string{key.String()},
			nowMs, limit.RequestsPerWindow, windowMs, consumeArg).Result()
	default:
		res, err = tokenBucketScript.Run(ctx, r.client, []string{key.String()},
			nowMs, limit.RequestsPerWindow, windowMs, limit.BurstCapacity, consumeArg).Result()
	}
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("rate limit script: %w", err)
	}

	arr, ok := res.([]any)
	if !ok || len(arr) < 4 {
		return ratelimit.Decision{}, fmt.Errorf("unexpected script response: %T", res)
	}
	allowed := toInt64(arr[0]) == 1
	remaining := toInt64(arr[1])
	ms := toInt64(arr[2])
	usage := toInt64(arr[3])

	decision := ratelimit.Decision{
		Allowed:      allowed,
		Remaining:    remaining,
		ResetAt:      now.Add(time.Duration(ms) * time.Millisecond),
		CurrentUsage: usage,
		Limit:        limit.RequestsPerWindow,
	}
	if !allowed {
		decision.RetryAfter = time.Duration(ms) * time.Millisecond
	}
	return decision, nil
}

// Reset drops every stored window for the key.
func (r *RateLimiter) Reset(ctx context.Context, key ratelimit.Key) error {
	return r.RemoveKeysMatching(ctx, key.String())
}

// RemoveKeysMatching deletes all buckets under a prefix with a cursor
// scan; no blocking KEYS call.
func (r *RateLimiter) RemoveKeysMatching(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan rate limit keys: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete rate limit keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	default:
		return 0
	}
}
