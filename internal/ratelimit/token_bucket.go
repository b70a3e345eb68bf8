// Package ratelimit guards the human action endpoints (approve, skip, edit,
// regenerate, resume) with a Redis token bucket, so a leaked action link
// cannot be hammered and token guessing stays impractically slow.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActionLimiter is a distributed token bucket keyed by (action, client).
type ActionLimiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewActionLimiter builds a limiter. capacity is the burst size, refill the
// sustained tokens per second; idle buckets expire after ttl.
func NewActionLimiter(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *ActionLimiter {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &ActionLimiter{client: client, capacity: capacity, refill: refillPerSecond, ttl: ttl}
}

// Allow consumes one token for the action/client pair if available and
// reports whether the request may proceed along with the remaining tokens.
func (l *ActionLimiter) Allow(ctx context.Context, action, client string) (bool, float64, error) {
	key := "ratelimit:action:" + action + ":" + client
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client, []string{key}, l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, nil
	}
	allowed := arr[0].(int64) == 1
	var remaining float64
	switch v := arr[1].(type) {
	case int64:
		remaining = float64(v)
	case float64:
		remaining = v
	}
	return allowed, remaining, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
