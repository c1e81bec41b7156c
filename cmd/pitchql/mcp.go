package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pitchql/pitchql/pkg/audit"
	"github.com/pitchql/pitchql/pkg/config"
	"github.com/pitchql/pitchql/pkg/db"
	"github.com/pitchql/pitchql/pkg/mcp"
	"github.com/pitchql/pitchql/pkg/nlsql"
	"github.com/pitchql/pitchql/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipelines as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			interactive, err := a.interactive()
			if err != nil {
				return err
			}
			runner, err := db.Open(ctx, a.cfg.Database)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer runner.Close()

			mc := mcp.Config{
				Ask:      interactive,
				Query:    pipeline.NewQuery(nlsql.New(a.models[config.StageSQL]), runner),
				Cache:    a.cache,
				Enforcer: a.enforcer,
				Version:  version,
				Logger:   a.log,
			}
			if a.tracker != nil {
				mc.Tracker = a.tracker
			}
			if a.cfg.Audit.Enabled {
				auditor, err := audit.New(a.cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = auditor.Close() }()
				mc.Auditor = auditor
			}

			return mcp.New(mc).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
