package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pitchql/pitchql/pkg/tracker"
	"github.com/spf13/cobra"
)

func newStatsCmd(configPath *string) *cobra.Command {
	var (
		stage     string
		requestID string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.Tracker.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := context.Background()

			// Per-request detail view
			if requestID != "" {
				recs, err := tr.QueryByRequest(ctx, requestID)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No usage found for request.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tSTAGE\tPROVIDER\tMODEL\tPROMPT\tCOMPLETION\tTOTAL")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
						r.CreatedAt.Format("2006-01-02T15:04:05"), r.Stage, r.Provider, r.Model, r.PromptTokens, r.CompletionTokens, r.TotalTokens)
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(ctx, stage)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tMODEL\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
					s.Stage, s.Model, s.RequestCount, s.TotalPrompt, s.TotalCompletion, s.TotalTokens)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			today, err := tr.TotalSince(ctx, time.Now().UTC().Truncate(24*time.Hour))
			if err != nil {
				return err
			}
			fmt.Printf("\nTokens today: %d\n", today)
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "filter by pipeline stage (data, code, sql, spec)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "show the model calls of one request")
	return cmd
}
