package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/throttle"
)

// Compile-time interface check.
var _ throttle.KV = (*KV)(nil)

// KV is an in-memory key-value store with per-key expiry, implementing
// the throttle coordination contract. Safe for concurrent use. Intended
// for unit testing and single-process development; production fleets use
// the redis backend.
type KV struct {
	mu      sync.Mutex
	entries map[string]kvEntry

	// now is injectable so tests can control expiry.
	now func() time.Time
}

type kvEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// KVOption configures a KV.
type KVOption func(*KV)

// WithKVClock injects the clock used for expiry decisions.
func WithKVClock(now func() time.Time) KVOption {
	return func(kv *KV) { kv.now = now }
}

// NewKV returns an empty in-memory KV.
func NewKV(opts ...KVOption) *KV {
	kv := &KV{
		entries: make(map[string]kvEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

// Get returns the value stored at key, or stepflow.ErrKeyNotFound if the
// key is absent or expired.
func (kv *KV) Get(_ context.Context, key string) (string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.entries[key]
	if !ok || kv.expired(e) {
		delete(kv.entries, key)
		return "", stepflow.ErrKeyNotFound
	}
	return e.value, nil
}

// Put stores value at key with the given expiry.
func (kv *KV) Put(_ context.Context, key, value string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e := kvEntry{value: value}
	if ttl > 0 {
		e.expiresAt = kv.now().Add(ttl)
	}
	kv.entries[key] = e
	return nil
}

// Incr atomically increments the counter at key, creating it with the
// given ttl if absent or expired.
func (kv *KV) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.entries[key]
	if !ok || kv.expired(e) {
		e = kvEntry{value: "0"}
		if ttl > 0 {
			e.expiresAt = kv.now().Add(ttl)
		}
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	kv.entries[key] = e
	return n, nil
}

// Forget removes key. Removing an absent key is not an error.
func (kv *KV) Forget(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.entries, key)
	return nil
}

func (kv *KV) expired(e kvEntry) bool {
	return !e.expiresAt.IsZero() && kv.now().After(e.expiresAt)
}
