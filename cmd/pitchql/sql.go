package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pitchql/pitchql/pkg/config"
	"github.com/pitchql/pitchql/pkg/db"
	"github.com/pitchql/pitchql/pkg/models"
	"github.com/pitchql/pitchql/pkg/nlsql"
	"github.com/pitchql/pitchql/pkg/pipeline"
	"github.com/pitchql/pitchql/pkg/requestid"
	"github.com/pitchql/pitchql/pkg/validate"
	"github.com/spf13/cobra"
)

func newSQLCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Check or run read-only SQL",
	}
	cmd.AddCommand(newSQLCheckCmd(), newSQLRunCmd(configPath))
	return cmd
}

func newSQLCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <sql>",
		Short: "Report whether a statement passes the read-only guard",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stmt := strings.Join(args, " ")
			if !validate.IsSafe(stmt) {
				return fmt.Errorf("rejected: %s", stmt)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newSQLRunCmd(configPath *string) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "run <question or sql>",
		Short: "Translate a question to SQL (or take --raw SQL) and print the rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := requestid.NewContext(context.Background(), requestid.New())
			text := strings.Join(args, " ")

			var in pipeline.QueryInput
			var translator pipeline.Translator
			if raw {
				in.SQL = text
			} else {
				a, err := newApp(ctx, *configPath)
				if err != nil {
					return err
				}
				defer a.close()
				in.NL = text
				translator = nlsql.New(a.models[config.StageSQL])
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			runner, err := db.Open(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer runner.Close()

			resp, err := pipeline.NewQuery(translator, runner).Run(ctx, in)
			if resp.SQL != "" {
				fmt.Fprintln(os.Stderr, resp.SQL)
			}
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "treat the argument as SQL instead of a question")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func responseCode(body []byte) (string, error) {
	var resp models.InteractiveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return resp.Code, nil
}
