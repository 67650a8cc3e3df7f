package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Item is one entry in a batch write.
type Item struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Stats describes the backing store for introspection endpoints.
type Stats struct {
	Backend string `json:"backend"`
	Keys    int64  `json:"keys"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Store is the key/value contract shared by the Redis and Badger backends.
//
// Every operation is best-effort from the caller's point of view: a cache
// failure is logged by the caller and the source of truth is consulted
// instead. Nothing in this package is a correctness dependency.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, prefix string) error
	MSet(ctx context.Context, items []Item) error
	Stats(ctx context.Context) (Stats, error)
	Health(ctx context.Context) error
	Close() error
}

// GetJSON reads a key and unmarshals it into dst. The bool reports a hit.
func GetJSON(ctx context.Context, store Store, key string, dst interface{}) (bool, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// A corrupt entry behaves like a miss; the caller will overwrite it.
		return false, err
	}
	return true, nil
}

// SetJSON marshals value and stores it under key.
func SetJSON(ctx context.Context, store Store, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, raw, ttl)
}
