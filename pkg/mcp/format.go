package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pitchql/pitchql/pkg/models"
)

// maxQueryRows bounds the rows echoed back to the client.
const maxQueryRows = 200

// formatQuery renders a query answer as the statement followed by JSON rows.
func formatQuery(resp models.QueryResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SQL: %s\nRows: %d\n", resp.SQL, resp.Rows)
	if resp.Truncated {
		fmt.Fprintf(&b, "(row limit reached, %d returned)\n", len(resp.Data))
	}
	rows := resp.Data
	if len(rows) > maxQueryRows {
		rows = rows[:maxQueryRows]
		fmt.Fprintf(&b, "(showing first %d)\n", maxQueryRows)
	}
	if rows == nil {
		rows = []models.Record{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		fmt.Fprintf(&b, "unprintable rows: %v\n", err)
		return b.String()
	}
	b.Write(data)
	b.WriteByte('\n')
	return b.String()
}

// formatSummary formats usage summaries as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-25s %8s %10s %10s %10s\n",
		"Stage", "Model", "Requests", "Prompt", "Completion", "Total")
	b.WriteString(strings.Repeat("-", 76) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-8s %-25s %8d %10d %10d %10d\n",
			r.Stage, r.Model, r.RequestCount, r.TotalPrompt, r.TotalCompletion, r.TotalTokens)
	}
	return b.String()
}

// formatUsageRecords lists one request's model calls.
func formatUsageRecords(recs []models.UsageRecord) string {
	if len(recs) == 0 {
		return "No model calls found for this request."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-6s %-10s %-25s %10s %10s %10s\n",
		"Time", "Stage", "Provider", "Model", "Prompt", "Completion", "Total")
	b.WriteString(strings.Repeat("-", 98) + "\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "%-20s %-6s %-10s %-25s %10d %10d %10d\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Stage, r.Provider, r.Model,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens)
	}
	return b.String()
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-8s %12s %12s %12s %6s\n",
		"Stage", "Period", "Max Tokens", "Used", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 63) + "\n")
	for _, s := range statuses {
		stage := s.Policy.Stage
		if stage == "" {
			stage = "*"
		}
		period := s.Policy.Period
		if period == "" {
			period = models.BudgetDaily
		}
		pct := float64(0)
		if s.Policy.MaxTokens > 0 {
			pct = float64(s.Used) / float64(s.Policy.MaxTokens) * 100
		}
		fmt.Fprintf(&b, "%-8s %-8s %12d %12d %12d %5.1f%%\n",
			stage, period, s.Policy.MaxTokens, s.Used, s.Remaining, pct)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics (%s)\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Backend, stats.Entries, stats.Hits, stats.Misses, hitRate)
}

// formatAuditEntries formats pipeline runs as a text table.
func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-14s %-7s %-18s %6s %8s %-20s\n",
		"Request ID", "Endpoint", "Outcome", "Code", "Status", "Latency", "Time")
	b.WriteString(strings.Repeat("-", 117) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-14s %-7s %-18s %6d %6dms %-20s\n",
			e.RequestID, e.Endpoint, e.Outcome, e.ErrorCode, e.StatusCode, e.LatencyMs,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
