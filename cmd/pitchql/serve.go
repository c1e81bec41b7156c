package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pitchql/pitchql/pkg/audit"
	"github.com/pitchql/pitchql/pkg/config"
	"github.com/pitchql/pitchql/pkg/db"
	"github.com/pitchql/pitchql/pkg/nlsql"
	"github.com/pitchql/pitchql/pkg/pipeline"
	"github.com/pitchql/pitchql/pkg/server"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
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
			if err := runner.Ping(ctx); err != nil {
				a.log.Warn("database unreachable at startup", zap.Error(err))
			}

			var auditor *audit.Logger
			if a.cfg.Audit.Enabled {
				auditor, err = audit.New(a.cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = auditor.Close() }()
			}

			srv := server.New(a.cfg, server.Pipelines{
				Interactive: interactive,
				Query:       pipeline.NewQuery(nlsql.New(a.models[config.StageSQL]), runner),
				Visualize:   pipeline.NewVisualize(a.models[config.StageSpec], a.codegen),
			}, auditor, a.log)

			a.log.Info("starting pitchql",
				zap.String("config", *configPath),
				zap.String("cache_backend", a.cfg.Cache.Backend),
				zap.String("prompt_version", a.cfg.PromptVersion),
			)
			return srv.ListenAndServe(ctx)
		},
	}
}
