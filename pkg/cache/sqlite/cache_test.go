package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pitchql/pitchql/pkg/cache"
	"github.com/pitchql/pitchql/pkg/models"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	c, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutAndGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := cache.Key(models.Query{PromptVersion: "v1", Question: "goals by year"})

	if err := c.Set(ctx, key, []byte(`{"code":"fig = px.bar(df)"}`), time.Hour); err != nil {
		t.Fatal(err)
	}

	data, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(data) != `{"code":"fig = px.bar(df)"}` {
		t.Errorf("unexpected response: %s", data)
	}

	// Miss for a different prompt version
	_, ok, err = c.Get(ctx, cache.Key(models.Query{PromptVersion: "v2", Question: "goals by year"}))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected cache miss for different prompt version")
	}
}

func TestTTLExpiration(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "resp:testhash", []byte("data"), time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)

	_, ok, err := c.Get(ctx, "resp:testhash")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected cache miss after TTL expiration")
	}
}

func TestOverwrite(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "resp:k", []byte("first"), time.Hour)
	_ = c.Set(ctx, "resp:k", []byte("second"), time.Hour)

	data, ok, _ := c.Get(ctx, "resp:k")
	if !ok || string(data) != "second" {
		t.Errorf("expected last write to win, got %q (hit=%v)", data, ok)
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "resp:h1", []byte("data"), time.Hour)
	c.Get(ctx, "resp:h1") // hit
	c.Get(ctx, "resp:h2") // miss

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.Entries)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestClear(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "resp:h1", []byte("data"), time.Hour)
	_ = c.Set(ctx, "resp:h2", []byte("data"), time.Hour)

	if err := c.Clear(ctx, false); err != nil {
		t.Fatal(err)
	}

	stats, _ := c.Stats(ctx)
	if stats.Entries != 0 {
		t.Errorf("expected 0 entries after clear, got %d", stats.Entries)
	}
}

func TestClearExpiredOnly(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "resp:old", []byte("data"), time.Millisecond)
	_ = c.Set(ctx, "resp:fresh", []byte("data"), time.Hour)
	time.Sleep(20 * time.Millisecond)

	if err := c.Clear(ctx, true); err != nil {
		t.Fatal(err)
	}

	stats, _ := c.Stats(ctx)
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry after clearing expired, got %d", stats.Entries)
	}
}
