package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	s := New(8, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "resp:a", []byte("alpha"), time.Hour))
	v, ok, err := s.Get(ctx, "resp:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alpha", string(v))

	// Returned slices are copies.
	v[0] = 'X'
	v2, _, _ := s.Get(ctx, "resp:a")
	assert.Equal(t, "alpha", string(v2))

	_, ok, err = s.Get(ctx, "resp:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestPerEntryTTL(t *testing.T) {
	s := New(8, time.Hour)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "resp:short", []byte("x"), time.Minute))
	require.NoError(t, s.Set(ctx, "resp:long", []byte("y"), 30*time.Minute))

	now = now.Add(2 * time.Minute)
	_, ok, _ := s.Get(ctx, "resp:short")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "resp:long")
	assert.True(t, ok)

	require.NoError(t, s.Clear(ctx, true))
	stats, _ := s.Stats(ctx)
	assert.Equal(t, int64(1), stats.Entries)

	require.NoError(t, s.Clear(ctx, false))
	stats, _ = s.Stats(ctx)
	assert.Equal(t, int64(0), stats.Entries)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	s := New(2, time.Hour)
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"), time.Hour)
	_ = s.Set(ctx, "b", []byte("2"), time.Hour)
	_, _, _ = s.Get(ctx, "a")
	_ = s.Set(ctx, "c", []byte("3"), time.Hour)

	_, ok, _ := s.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")
	_, ok, _ = s.Get(ctx, "a")
	assert.True(t, ok)
}
