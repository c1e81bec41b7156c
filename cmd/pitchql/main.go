package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	var configPath string
	root := &cobra.Command{
		Use:           "pitchql",
		Short:         "pitchql: football questions in, SQL and charts out",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults plus environment when empty)")

	root.AddCommand(
		newServeCmd(&configPath),
		newAskCmd(&configPath),
		newSQLCmd(&configPath),
		newCacheCmd(&configPath),
		newAuditCmd(&configPath),
		newStatsCmd(&configPath),
		newBudgetCmd(&configPath),
		newMCPCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
