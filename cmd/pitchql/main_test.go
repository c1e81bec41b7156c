package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pitchql/pitchql/pkg/config"
	"github.com/pitchql/pitchql/pkg/models"
)

func TestOpenCacheBackends(t *testing.T) {
	cfg := config.Default()

	cfg.Cache.Backend = "none"
	store, admin, closeStore, err := openCache(cfg)
	if err != nil {
		t.Fatal(err)
	}
	closeStore()
	if store != nil || admin != nil {
		t.Error("expected no store for backend none")
	}

	cfg.Cache.Backend = "memory"
	store, admin, closeStore, err = openCache(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeStore()
	if err := store.Set(context.Background(), "resp:k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	stats, err := admin.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.Entries)
	}

	cfg.Cache.Backend = "memcached"
	if _, _, _, err := openCache(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestFormatAuditEntries(t *testing.T) {
	if got := formatAuditEntries(nil); got != "No audit entries found.\n" {
		t.Errorf("unexpected empty output %q", got)
	}

	out := formatAuditEntries([]models.AuditEntry{{
		RequestID:  "req-1",
		Endpoint:   "/interactive/",
		Outcome:    models.OutcomeFailed,
		ErrorCode:  "render_failure",
		StatusCode: 500,
		LatencyMs:  42,
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}})
	for _, want := range []string{"req-1", "/interactive/", "render_failure", "42ms", "2024-05-01 12:00:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatAuditEntryShowsDiagnostics(t *testing.T) {
	out := formatAuditEntry(models.AuditEntry{
		RequestID:   "req-1",
		Outcome:     models.OutcomeFailed,
		Diagnostics: "KeyError: 'goals'",
	})
	if !strings.Contains(out, "--- Diagnostics ---\nKeyError: 'goals'") {
		t.Errorf("diagnostics missing:\n%s", out)
	}
	if strings.Contains(out, "Cache key") {
		t.Errorf("empty cache key should be omitted:\n%s", out)
	}
}

func TestResponseCode(t *testing.T) {
	code, err := responseCode([]byte(`{"spec":{},"code":"fig = px.bar(df)","plotly_json":"{}"}`))
	if err != nil {
		t.Fatal(err)
	}
	if code != "fig = px.bar(df)" {
		t.Errorf("unexpected code %q", code)
	}
	if _, err := responseCode([]byte("nope")); err == nil {
		t.Error("expected decode error")
	}
}
