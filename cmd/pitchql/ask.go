package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/requestid"
	"github.com/pitchql/pitchql/pkg/sandbox"
	"github.com/spf13/cobra"
)

func newAskCmd(configPath *string) *cobra.Command {
	var codeOnly bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question with a chart and print the JSON response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := requestid.NewContext(context.Background(), requestid.New())

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.interactive()
			if err != nil {
				return err
			}

			res, err := p.Run(ctx, strings.Join(args, " "))
			if err != nil {
				if tb := sandbox.Traceback(err); tb != "" {
					fmt.Fprintln(os.Stderr, tb)
				}
				return fmt.Errorf("%s (%s): %w", apperr.PublicMessage(err), apperr.KindOf(err).Code(), err)
			}
			if res.CacheHit {
				fmt.Fprintln(os.Stderr, "cache: hit")
			}
			if codeOnly {
				code, err := responseCode(res.Body)
				if err != nil {
					return err
				}
				fmt.Println(code)
				return nil
			}
			fmt.Println(string(res.Body))
			return nil
		},
	}

	cmd.Flags().BoolVar(&codeOnly, "code", false, "print only the generated chart code")
	return cmd
}
