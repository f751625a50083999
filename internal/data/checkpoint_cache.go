package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/setalabs/blingsync/internal/domain/model"
)

// checkpointNever marks a tenant/kind known to have no completed sync, so the
// cache can also answer "never synced" without a database round trip.
const checkpointNever = "never"

// RedisCheckpointCache caches the last-successful-sync instant per tenant and
// kind. The database remains the source of truth; entries expire so a stale
// cache heals itself.
type RedisCheckpointCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCheckpointCache creates a new RedisCheckpointCache with the given Redis client and TTL.
func NewRedisCheckpointCache(client redis.UniversalClient, ttl time.Duration) *RedisCheckpointCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCheckpointCache{client: client, ttl: ttl}
}

func checkpointKey(tenantID string, kind model.SyncKind) string {
	return fmt.Sprintf("blingsync:checkpoint:%s:%s", tenantID, kind)
}

// Get returns the cached checkpoint. The second return reports a cache hit;
// a hit with a nil time means the tenant has never completed a sync.
func (c *RedisCheckpointCache) Get(ctx context.Context, tenantID string, kind model.SyncKind) (*time.Time, bool, error) {
	result, err := c.client.Get(ctx, checkpointKey(tenantID, kind)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	if result == checkpointNever {
		return nil, true, nil
	}

	at, parseErr := time.Parse(time.RFC3339Nano, result)
	if parseErr != nil {
		// Unreadable entry, treat as a miss so the caller falls back to the database.
		return nil, false, nil
	}
	return &at, true, nil
}

// Set stores the checkpoint, or the never-synced marker when at is nil.
func (c *RedisCheckpointCache) Set(ctx context.Context, tenantID string, kind model.SyncKind, at *time.Time) error {
	value := checkpointNever
	if at != nil {
		value = at.UTC().Format(time.RFC3339Nano)
	}

	if err := c.client.Set(ctx, checkpointKey(tenantID, kind), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate drops the cached checkpoint, typically after a sync completes.
func (c *RedisCheckpointCache) Invalidate(ctx context.Context, tenantID string, kind model.SyncKind) error {
	if err := c.client.Del(ctx, checkpointKey(tenantID, kind)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
