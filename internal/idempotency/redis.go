package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyTTL = 24 * time.Hour

// Redis backs the guard with SETNX so the once-only property holds across
// multiple backend instances sharing one Redis.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Acquire(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, key, 1, keyTTL).Result()
}

func (r *Redis) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
