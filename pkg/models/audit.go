package models

import "time"

// Run outcomes recorded in the audit log.
const (
	OutcomeOK     = "ok"
	OutcomeHit    = "hit"
	OutcomeFailed = "failed"
)

// AuditEntry represents a single audited pipeline run.
type AuditEntry struct {
	RequestID     string    `json:"request_id"`
	Endpoint      string    `json:"endpoint"`
	Question      string    `json:"question,omitempty"`
	PromptVersion string    `json:"prompt_version"`
	CacheKey      string    `json:"cache_key,omitempty"`
	Outcome       string    `json:"outcome"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Diagnostics   string    `json:"diagnostics,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	StatusCode    int       `json:"status_code"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled          bool     `yaml:"enabled"`
	DBPath           string   `yaml:"db_path"`
	RetentionDays    int      `yaml:"retention_days"`
	Include          []string `yaml:"include"` // "questions", "responses", "diagnostics"
	ExcludeEndpoints []string `yaml:"exclude_endpoints"`
	MaxBodySize      int      `yaml:"max_body_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Endpoint  string
	Outcome   string
	ErrorCode string
	Since     time.Time
	RequestID string
	Limit     int
}

// AuditStat holds aggregate audit counts for an endpoint/day/outcome combination.
type AuditStat struct {
	Endpoint string
	Day      string
	Outcome  string
	Count    int
}
