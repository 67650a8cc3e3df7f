package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the cache with a shared Redis instance so that
// invalidations are visible to every server process.
type RedisStore struct {
	client *redis.Client
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		s.misses.Add(1)
		return nil, false, err
	}
	s.hits.Add(1)
	return raw, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// DeletePattern removes every key starting with prefix. SCAN keeps this
// safe on large keyspaces; KEYS would block the server.
func (s *RedisStore) DeletePattern(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, prefix+"*", 200).Iterator()

	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return s.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (s *RedisStore) MSet(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, item := range items {
		pipe.Set(ctx, item.Key, item.Value, item.TTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	size, err := s.client.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Backend: "redis",
		Keys:    size,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}, nil
}

func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
