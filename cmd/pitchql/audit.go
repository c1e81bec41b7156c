package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pitchql/pitchql/pkg/audit"
	"github.com/pitchql/pitchql/pkg/models"
	"github.com/spf13/cobra"
)

func newAuditCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the pipeline run log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(configPath),
		newAuditShowCmd(configPath),
		newAuditStatsCmd(configPath),
		newAuditCleanupCmd(configPath),
	)
	return cmd
}

func newAuditSearchCmd(configPath *string) *cobra.Command {
	var (
		endpoint  string
		outcome   string
		errorCode string
		since     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				Endpoint:  endpoint,
				Outcome:   outcome,
				ErrorCode: errorCode,
				Limit:     limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "filter by endpoint (e.g. /interactive/)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (ok, hit, failed)")
	cmd.Flags().StringVar(&errorCode, "code", "", "filter by error code")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a single audit entry by request ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), models.AuditQueryOpts{
				RequestID: args[0],
				Limit:     1,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entry found for that request ID.")
				return nil
			}
			fmt.Print(formatAuditEntry(entries[0]))
			return nil
		},
	}
}

func newAuditStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show run counts by endpoint, day and outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit entries.\n", deleted)
			return nil
		},
	}
}

func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-14s %-7s %-20s %6s %8s %-20s\n",
		"REQUEST ID", "ENDPOINT", "OUTCOME", "CODE", "STATUS", "LATENCY", "TIME")
	b.WriteString(strings.Repeat("-", 119) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-14s %-7s %-20s %6d %6dms %-20s\n",
			e.RequestID, e.Endpoint, e.Outcome, e.ErrorCode, e.StatusCode,
			e.LatencyMs, e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditEntry(e models.AuditEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request ID:    %s\n", e.RequestID)
	fmt.Fprintf(&b, "Endpoint:      %s\n", e.Endpoint)
	fmt.Fprintf(&b, "Outcome:       %s\n", e.Outcome)
	if e.ErrorCode != "" {
		fmt.Fprintf(&b, "Error code:    %s\n", e.ErrorCode)
	}
	fmt.Fprintf(&b, "Status:        %d\n", e.StatusCode)
	fmt.Fprintf(&b, "Latency:       %dms\n", e.LatencyMs)
	fmt.Fprintf(&b, "Prompt:        %s\n", e.PromptVersion)
	if e.CacheKey != "" {
		fmt.Fprintf(&b, "Cache key:     %s\n", e.CacheKey)
	}
	fmt.Fprintf(&b, "Time:          %s\n", e.CreatedAt.Format(time.RFC3339))
	if e.Question != "" {
		fmt.Fprintf(&b, "\n--- Question ---\n%s\n", e.Question)
	}
	if e.Diagnostics != "" {
		fmt.Fprintf(&b, "\n--- Diagnostics ---\n%s\n", e.Diagnostics)
	}
	if e.ResponseBody != "" {
		fmt.Fprintf(&b, "\n--- Response Body ---\n%s\n", e.ResponseBody)
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %-12s %-8s %8s\n", "ENDPOINT", "DAY", "OUTCOME", "COUNT")
	b.WriteString(strings.Repeat("-", 45) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-14s %-12s %-8s %8d\n", s.Endpoint, s.Day, s.Outcome, s.Count)
	}
	return b.String()
}
