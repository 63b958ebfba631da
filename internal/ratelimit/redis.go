package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "codecollab:ratelimit:"

// Redis is a fixed-window counter shared by every server pointed at the same
// Redis instance.
type Redis struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	if client == nil {
		panic("redis client cannot be nil for ratelimit.Redis")
	}
	if limit <= 0 {
		panic("limit must be positive for ratelimit.Redis")
	}
	if window <= 0 {
		panic("window must be positive for ratelimit.Redis")
	}
	return &Redis{client: client, limit: int64(limit), window: window}
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := redisKey(key)

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count, err := incr.Result()
	if err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return count <= r.limit, nil
}
