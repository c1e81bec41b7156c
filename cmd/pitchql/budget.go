package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pitchql/pitchql/pkg/budget"
	"github.com/pitchql/pitchql/pkg/tracker"
	"github.com/spf13/cobra"
)

func newBudgetCmd(configPath *string) *cobra.Command {
	var stage string

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show token budget status per policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if len(cfg.Budget.Policies) == 0 {
				fmt.Println("No budget policies configured.")
				return nil
			}

			tr, err := tracker.New(cfg.Tracker.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			statuses, err := budget.New(cfg.Budget.Policies, tr).Status(context.Background(), stage)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tPERIOD\tMAX TOKENS\tUSED\tREMAINING")
			for _, s := range statuses {
				st := s.Policy.Stage
				if st == "" {
					st = budget.AllStages
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", st, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "only policies that apply to this stage")
	return cmd
}
