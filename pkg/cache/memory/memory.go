// Package memory is an in-process cache store bounded by entry count.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pitchql/pitchql/pkg/models"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store keeps up to size entries, evicting least recently used first.
// maxTTL caps every entry's lifetime; Set may shorten it per entry.
type Store struct {
	lru    *expirable.LRU[string, entry]
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a Store holding at most size entries.
func New(size int, maxTTL time.Duration) *Store {
	if size <= 0 {
		size = 1024
	}
	return &Store{
		lru: expirable.NewLRU[string, entry](size, nil, maxTTL),
		now: time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.lru.Get(key)
	if !ok || !s.now().Before(e.expiresAt) {
		s.misses.Add(1)
		return nil, false, nil
	}
	s.hits.Add(1)
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores a copy of value for ttl.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := make([]byte, len(value))
	copy(v, value)
	s.lru.Add(key, entry{value: v, expiresAt: s.now().Add(ttl)})
	return nil
}

// Stats returns entry and hit/miss counts.
func (s *Store) Stats(_ context.Context) (models.CacheStats, error) {
	return models.CacheStats{
		Backend: "memory",
		Entries: int64(s.lru.Len()),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}, nil
}

// Clear drops entries; with expiredOnly it keeps live ones.
func (s *Store) Clear(_ context.Context, expiredOnly bool) error {
	if !expiredOnly {
		s.lru.Purge()
		return nil
	}
	now := s.now()
	for _, k := range s.lru.Keys() {
		if e, ok := s.lru.Peek(k); ok && !now.Before(e.expiresAt) {
			s.lru.Remove(k)
		}
	}
	return nil
}
