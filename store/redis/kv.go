package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/throttle"
)

// Compile-time interface check.
var _ throttle.KV = (*KV)(nil)

// KV implements the throttle coordination contract over Redis. Every
// worker process points at the same Redis and therefore observes the same
// window counters, quota signals, and ban markers.
type KV struct {
	client goredis.Cmdable
}

// NewKV creates a Redis-backed throttle KV. The caller owns the client
// lifecycle.
func NewKV(client goredis.Cmdable) *KV {
	return &KV{client: client}
}

// Get returns the value for key, or stepflow.ErrKeyNotFound if the key is
// absent or expired.
func (kv *KV) Get(ctx context.Context, key string) (string, error) {
	val, err := kv.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", stepflow.ErrKeyNotFound
		}
		return "", fmt.Errorf("stepflow/redis: get %s: %w", key, err)
	}
	return val, nil
}

// Put stores value under key with the given TTL.
func (kv *KV) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := kv.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("stepflow/redis: put %s: %w", key, err)
	}
	return nil
}

// Incr atomically increments the counter at key and returns the new value.
// The TTL is attached when the increment creates the key, so a fixed
// window expires ttl after its first dispatch.
func (kv *KV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := kv.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("stepflow/redis: incr %s: %w", key, err)
	}
	if n == 1 && ttl > 0 {
		if err := kv.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("stepflow/redis: expire %s: %w", key, err)
		}
	}
	return n, nil
}

// Forget removes key. Removing an absent key is not an error.
func (kv *KV) Forget(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("stepflow/redis: forget %s: %w", key, err)
	}
	return nil
}
