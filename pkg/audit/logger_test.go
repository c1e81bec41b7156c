package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pitchql/pitchql/pkg/models"
)

func tempCfg(t *testing.T) models.AuditConfig {
	t.Helper()
	return models.AuditConfig{
		Enabled:       true,
		DBPath:        filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays: 90,
		MaxBodySize:   1024,
		Include:       []string{"questions", "responses", "diagnostics"},
	}
}

func mustNew(t *testing.T, cfg models.AuditConfig) *Logger {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleEntry() models.AuditEntry {
	return models.AuditEntry{
		RequestID:     "req-001",
		Endpoint:      "/interactive/",
		Question:      "top scorers in 2019",
		PromptVersion: "v1",
		CacheKey:      "resp:abc",
		Outcome:       models.OutcomeFailed,
		ErrorCode:     "render_failure",
		Diagnostics:   "Traceback (most recent call last):\nKeyError: 'goals'",
		ResponseBody:  `{"error":"chart rendering failed","code":"render_failure"}`,
		StatusCode:    500,
		LatencyMs:     1500,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{Endpoint: "/interactive/"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.RequestID != "req-001" {
		t.Errorf("expected req-001, got %s", got.RequestID)
	}
	if got.ErrorCode != "render_failure" || got.Outcome != models.OutcomeFailed {
		t.Errorf("unexpected outcome %s/%s", got.Outcome, got.ErrorCode)
	}
	if !strings.Contains(got.Diagnostics, "KeyError") {
		t.Errorf("expected diagnostics, got %q", got.Diagnostics)
	}
}

func TestQueryFilters(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	hit := sampleEntry()
	hit.RequestID = "req-002"
	hit.Outcome = models.OutcomeHit
	hit.ErrorCode = ""
	hit.StatusCode = 200
	_ = l.Log(ctx, hit)

	byID, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byID) != 1 {
		t.Fatalf("expected 1, got %d", len(byID))
	}

	hits, _ := l.Query(ctx, models.AuditQueryOpts{Outcome: models.OutcomeHit})
	if len(hits) != 1 || hits[0].RequestID != "req-002" {
		t.Errorf("unexpected hits %+v", hits)
	}

	failures, _ := l.Query(ctx, models.AuditQueryOpts{ErrorCode: "render_failure"})
	if len(failures) != 1 || failures[0].RequestID != "req-001" {
		t.Errorf("unexpected failures %+v", failures)
	}
}

func TestExcludeEndpoints(t *testing.T) {
	cfg := tempCfg(t)
	cfg.ExcludeEndpoints = []string{"/interactive/"}
	l := mustNew(t, cfg)
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected 0 entries for excluded endpoint, got %d", len(entries))
	}
}

func TestBodyTruncation(t *testing.T) {
	cfg := tempCfg(t)
	cfg.MaxBodySize = 16
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.ResponseBody = strings.Repeat("x", 100)
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries[0].ResponseBody) != 16 {
		t.Errorf("expected truncated body len 16, got %d", len(entries[0].ResponseBody))
	}
	if len(entries[0].Diagnostics) != 16 {
		t.Errorf("expected truncated diagnostics len 16, got %d", len(entries[0].Diagnostics))
	}
}

func TestIncludeFiltering(t *testing.T) {
	cfg := tempCfg(t)
	cfg.Include = nil
	l := mustNew(t, cfg)
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if entries[0].Question != "" {
		t.Errorf("expected empty question, got %q", entries[0].Question)
	}
	if entries[0].ResponseBody != "" {
		t.Errorf("expected empty response body, got %q", entries[0].ResponseBody)
	}
	if entries[0].Diagnostics != "" {
		t.Errorf("expected empty diagnostics, got %q", entries[0].Diagnostics)
	}
	if entries[0].ErrorCode != "render_failure" {
		t.Errorf("error code must always be kept, got %q", entries[0].ErrorCode)
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0 // everything is old
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.CreatedAt = time.Now().UTC().AddDate(0, 0, -1)
	_ = l.Log(ctx, entry)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	_ = l.Log(ctx, e2)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) == 0 {
		t.Fatal("expected stats")
	}
	if stats[0].Count != 2 || stats[0].Outcome != models.OutcomeFailed {
		t.Errorf("expected 2 failed, got %+v", stats[0])
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleEntry()); err != nil {
		t.Errorf("nil logger should be safe: %v", err)
	}
}

func TestNewInvalidPath(t *testing.T) {
	cfg := models.AuditConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"),
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for invalid path")
	}
}
