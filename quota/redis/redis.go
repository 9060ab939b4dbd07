// Package redis provides a Redis-backed QuotaStore for cloudgpt.
//
// Each bucket is a plain counter key whose expiry is the window reset time.
// Check and increment run in one Lua script, so concurrent gateway instances
// sharing a bucket never over-admit.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// Store is a Redis-backed QuotaStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	now       func() time.Time
}

var _ cloudgpt.QuotaStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "cloudgpt:quota:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed QuotaStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "cloudgpt:quota:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) bucketKey(key string) string {
	return s.keyPrefix + key
}

// hitScript checks and increments a bucket.
// KEYS[1] = bucket key
// ARGV[1] = limit
// ARGV[2] = reset_at (unix milliseconds), applied when the window opens
//
// Returns {allowed (1|0), count, pttl}.
var hitScript = goredis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local reset_at = tonumber(ARGV[2])

local count = tonumber(redis.call("GET", key) or "0")
if count >= limit then
    return {0, count, redis.call("PTTL", key)}
end

count = redis.call("INCR", key)
if count == 1 or redis.call("PTTL", key) < 0 then
    redis.call("PEXPIREAT", key, reset_at)
end
return {1, count, redis.call("PTTL", key)}
`)

// Hit counts one request if the bucket is under limit.
func (s *Store) Hit(ctx context.Context, key string, limit int64, w cloudgpt.Window) (cloudgpt.QuotaResult, error) {
	now := s.now()
	resetAt := w.ResetAt(now)

	vals, err := hitScript.Run(ctx, s.client,
		[]string{s.bucketKey(key)},
		limit, resetAt.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return cloudgpt.QuotaResult{}, fmt.Errorf("cloudgpt/redis: hit: %w", err)
	}
	if len(vals) != 3 {
		return cloudgpt.QuotaResult{}, fmt.Errorf("cloudgpt/redis: unexpected hit result: %v", vals)
	}

	allowed, count, pttl := vals[0] == 1, vals[1], vals[2]
	if pttl > 0 {
		resetAt = now.Add(time.Duration(pttl) * time.Millisecond)
	}
	return result(allowed, count, limit, resetAt), nil
}

// Peek reads a bucket without counting.
func (s *Store) Peek(ctx context.Context, key string, limit int64, w cloudgpt.Window) (cloudgpt.QuotaResult, error) {
	now := s.now()
	k := s.bucketKey(key)

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return cloudgpt.QuotaResult{}, fmt.Errorf("cloudgpt/redis: peek: %w", err)
	}

	count, err := getCmd.Int64()
	if errors.Is(err, goredis.Nil) {
		return cloudgpt.QuotaResult{Allowed: limit > 0, Remaining: limit, Limit: limit, ResetAt: w.ResetAt(now)}, nil
	}
	if err != nil {
		return cloudgpt.QuotaResult{}, fmt.Errorf("cloudgpt/redis: peek: %w", err)
	}

	resetAt := w.ResetAt(now)
	if ttl := ttlCmd.Val(); ttl > 0 {
		resetAt = now.Add(ttl)
	}
	return result(count < limit, count, limit, resetAt), nil
}

func result(allowed bool, count, limit int64, resetAt time.Time) cloudgpt.QuotaResult {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return cloudgpt.QuotaResult{Allowed: allowed, Remaining: remaining, Limit: limit, ResetAt: resetAt}
}
