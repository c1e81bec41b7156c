// Package redis stores pipeline responses in Redis, relying on key expiry
// for TTL.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pitchql/pitchql/pkg/cache"
	"github.com/pitchql/pitchql/pkg/models"
)

// Store is a cache.Store backed by a Redis client.
type Store struct {
	client *goredis.Client
	hits   atomic.Int64
	misses atomic.Int64
}

// New connects to the Redis instance at url (redis://host:port/db).
func New(url string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Store{client: goredis.NewClient(opts)}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get returns the value for key. A missing key is a miss, not an error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	s.hits.Add(1)
	return val, true, nil
}

// Set writes value with the given expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Stats counts response keys. Hits and misses are for this process only.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	var n int64
	it := s.client.Scan(ctx, 0, cache.KeyPrefix+"*", 500).Iterator()
	for it.Next(ctx) {
		n++
	}
	if err := it.Err(); err != nil {
		return models.CacheStats{}, fmt.Errorf("redis scan: %w", err)
	}
	return models.CacheStats{
		Backend: "redis",
		Entries: n,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}, nil
}

// Clear deletes response keys. Redis already drops expired keys, so
// expiredOnly has nothing to do.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) error {
	if expiredOnly {
		return nil
	}
	it := s.client.Scan(ctx, 0, cache.KeyPrefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	for it.Next(ctx) {
		batch = append(batch, it.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return flush()
}

// Close releases the client's connections.
func (s *Store) Close() error {
	return s.client.Close()
}
