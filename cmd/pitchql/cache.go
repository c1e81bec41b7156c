package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			_, admin, closeStore, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			if admin == nil {
				fmt.Println("Caching is disabled.")
				return nil
			}

			stats, err := admin.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Backend: %s\nEntries: %d\nHits:    %d\nMisses:  %d\n", stats.Backend, stats.Entries, stats.Hits, stats.Misses)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			_, admin, closeStore, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			if admin == nil {
				fmt.Println("Caching is disabled.")
				return nil
			}

			if err := admin.Clear(context.Background(), expiredOnly); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired cache entries cleared.")
			} else {
				fmt.Println("All cache entries cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
