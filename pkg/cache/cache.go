// Package cache fingerprints pipeline requests and stores their serialized
// responses in an external key-value store with a TTL.
//
// Concurrent first requests for the same key may both compute and both
// write; the last write wins. Recomputation is idempotent so this is not
// guarded against across processes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/models"
)

// KeyPrefix namespaces response entries in a shared store.
const KeyPrefix = "resp:"

// Store is a key-value store with per-entry TTL. Get reports a miss with
// ok == false and a nil error; a non-nil error means the store itself failed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Admin is implemented by stores that can report on and purge their contents.
type Admin interface {
	Stats(ctx context.Context) (models.CacheStats, error)
	Clear(ctx context.Context, expiredOnly bool) error
}

// Key returns the cache key for q: KeyPrefix followed by the hex SHA-256 of
// "prompt_version:question". Bumping the prompt version orphans every older
// entry without deleting it.
func Key(q models.Query) string {
	sum := sha256.Sum256([]byte(q.PromptVersion + ":" + q.Question))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Gateway performs lookups and stores for pipeline responses.
type Gateway struct {
	store   Store
	version string
	ttl     time.Duration
}

// NewGateway returns a Gateway over store. A nil store disables caching:
// every lookup misses and every store is a no-op.
func NewGateway(store Store, promptVersion string, ttl time.Duration) *Gateway {
	return &Gateway{store: store, version: promptVersion, ttl: ttl}
}

// Query binds question to the gateway's prompt version.
func (g *Gateway) Query(question string) models.Query {
	return models.Query{Question: question, PromptVersion: g.version}
}

// Enabled reports whether a store is configured.
func (g *Gateway) Enabled() bool { return g != nil && g.store != nil }

// TTL returns the lifetime given to stored entries.
func (g *Gateway) TTL() time.Duration { return g.ttl }

// Lookup returns the cached response for q, if any. Store failures are
// reported as CacheUnavailable.
func (g *Gateway) Lookup(ctx context.Context, q models.Query) ([]byte, bool, error) {
	if !g.Enabled() {
		return nil, false, nil
	}
	val, ok, err := g.store.Get(ctx, Key(q))
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindCacheUnavailable, "cache lookup", err)
	}
	return val, ok, nil
}

// Store saves response under q's key for the gateway TTL.
func (g *Gateway) Store(ctx context.Context, q models.Query, response []byte) error {
	if !g.Enabled() {
		return nil
	}
	if err := g.store.Set(ctx, Key(q), response, g.ttl); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache store", err)
	}
	return nil
}
