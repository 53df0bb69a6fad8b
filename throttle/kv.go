package throttle

import (
	"context"
	"time"
)

// KV is the coordination contract: a shared key-value store with per-key
// expiry. Implementations must be safe for concurrent use from many
// processes. Get returns stepflow.ErrKeyNotFound for absent or expired
// keys; any other error is treated as a store outage and the limiter
// fails open.
type KV interface {
	// Get returns the value stored at key.
	Get(ctx context.Context, key string) (string, error)

	// Put stores value at key with the given expiry. A non-positive ttl
	// stores the key without expiry.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the counter at key and returns the new
	// value. The ttl applies when the increment creates the key.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Forget removes key. Removing an absent key is not an error.
	Forget(ctx context.Context, key string) error
}
