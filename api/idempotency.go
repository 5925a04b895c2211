package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "dashboard:idempotency:"

// RedisDeduper remembers Idempotency-Key values of create requests so that a
// retried create from any instance does not add a second item.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(owner, key string) string {
	return idempotencyPrefix + owner + ":" + key
}

// Add records the key for owner. It reports false when the key was already
// recorded and has not expired.
func (r *RedisDeduper) Add(ctx context.Context, owner, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(owner, key), 1, r.ttl).Result()
}

// Remove forgets a recorded key so a failed create can be retried.
func (r *RedisDeduper) Remove(ctx context.Context, owner, key string) error {
	return r.client.Del(ctx, r.key(owner, key)).Err()
}
