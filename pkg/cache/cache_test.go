package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/models"
)

type mapStore struct {
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMapStore() *mapStore {
	return &mapStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func TestKeyDeterminism(t *testing.T) {
	a := Key(models.Query{PromptVersion: "v1", Question: "x"})
	b := Key(models.Query{PromptVersion: "v1", Question: "x"})
	c := Key(models.Query{PromptVersion: "v2", Question: "x"})
	d := Key(models.Query{PromptVersion: "v1", Question: "y"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.NotEqual(t, c, d)
}

func TestKeyFormat(t *testing.T) {
	k := Key(models.Query{PromptVersion: "v1", Question: "x"})
	require.True(t, strings.HasPrefix(k, KeyPrefix))
	assert.Equal(t, "resp:526ff863fe20115c82fb97d1368ba91b9c5d0ee057a685a200513795e161286d", k)
}

func TestGatewayRoundTrip(t *testing.T) {
	store := newMapStore()
	g := NewGateway(store, "v1", time.Hour)
	ctx := context.Background()
	q := g.Query("top scorers 2012")

	_, ok, err := g.Lookup(ctx, q)
	require.NoError(t, err)
	assert.False(t, ok)

	body := []byte(`{"spec":{},"code":"fig=1","plotly_json":"{}"}`)
	require.NoError(t, g.Store(ctx, q, body))
	assert.Equal(t, time.Hour, store.ttls[Key(q)])

	got, ok, err := g.Lookup(ctx, q)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, body, got)

	// A new prompt version does not see the old entry.
	g2 := NewGateway(store, "v2", time.Hour)
	_, ok, err = g2.Lookup(ctx, g2.Query("top scorers 2012"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGatewayStoreFailures(t *testing.T) {
	store := newMapStore()
	store.getErr = errors.New("dial tcp: connection refused")
	store.setErr = errors.New("READONLY")
	g := NewGateway(store, "v1", time.Minute)
	ctx := context.Background()

	_, _, err := g.Lookup(ctx, g.Query("q"))
	assert.True(t, apperr.Is(err, apperr.KindCacheUnavailable))

	err = g.Store(ctx, g.Query("q"), []byte("{}"))
	assert.True(t, apperr.Is(err, apperr.KindCacheUnavailable))
}

func TestGatewayDisabled(t *testing.T) {
	g := NewGateway(nil, "v1", time.Minute)
	assert.False(t, g.Enabled())

	_, ok, err := g.Lookup(context.Background(), g.Query("q"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, g.Store(context.Background(), g.Query("q"), []byte("{}")))
}
