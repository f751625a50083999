// Package ratelimit implements a Redis-backed token bucket shared by every
// process talking to the Bling API, so the combined request rate for a tenant
// stays under Bling's quota no matter how many workers run.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/setalabs/blingsync/internal/errors"
)

// TokenBucket implements a distributed token bucket rate limiter using Redis.
type TokenBucket struct {
	client    redis.UniversalClient
	capacity  int
	refill    float64 // tokens per second
	ttl       time.Duration
	pollEvery time.Duration
}

// Config holds the bucket parameters.
type Config struct {
	// Capacity is the burst size.
	Capacity int
	// RefillPerSecond is the sustained request rate.
	RefillPerSecond float64
	// TTL expires idle buckets.
	TTL time.Duration
	// PollInterval is how often Wait rechecks an empty bucket.
	PollInterval time.Duration
}

// NewTokenBucket constructs a bucket with the provided capacity/refill.
func NewTokenBucket(client redis.UniversalClient, cfg Config) *TokenBucket {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	refill := cfg.RefillPerSecond
	if refill <= 0 {
		refill = 1
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	return &TokenBucket{
		client:    client,
		capacity:  capacity,
		refill:    refill,
		ttl:       ttl,
		pollEvery: poll,
	}
}

// Allow consumes a single token for the given key if available.
// Returns allowed flag and current token count.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, float64, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{key},
		b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, nil
	}
	allowed, _ := arr[0].(int64)
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed == 1, tokens, nil
}

// Wait blocks until a token is available for the key or the context expires.
// Requests are delayed, never rejected: the Bling quota shapes throughput
// instead of failing jobs.
func (b *TokenBucket) Wait(ctx context.Context, key string) error {
	for {
		allowed, _, err := b.Allow(ctx, key)
		if err != nil {
			return apperrors.TransientAPI("rate limiter unavailable", err)
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.pollEvery):
		}
	}
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
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
