package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dlovans/taxflow/internal/watch"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/flow"
	"github.com/dlovans/taxflow/pkg/lint"
)

var errLintFailed = errors.New("lint found errors")

func lintCmd(a *app) *cobra.Command {
	var (
		watchMode bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Check flow declarations against the fact dictionary",
		Long: `Lint loads every flow file and the fact dictionary and reports all
problems in one pass: build errors, dictionary errors and warnings such as
screens without headings or writable facts no screen asks for.

With --watch, lint runs again whenever a flow file or the dictionary changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !watchMode {
				result, err := a.lint()
				if err != nil {
					return err
				}
				if err := report(out, result, asJSON); err != nil {
					return err
				}
				if !result.Valid {
					return errLintFailed
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.lintWatch(ctx, out, asJSON)
		},
	}
	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Re-lint when flow files or the dictionary change")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

// lint runs the linter over the configured sources. Unreadable or
// unparsable sources are errors, not lint issues.
func (a *app) lint() (*lint.Result, error) {
	f, err := os.Open(a.cfg.Flow.Dictionary)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	defs, err := factgraph.DecodeFactDefs(f, factgraph.FormatOf(a.cfg.Flow.Dictionary))
	if err != nil {
		return nil, err
	}

	doc, files, err := flow.LoadGlob(a.cfg.Flow.Globs...)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("linting", zap.Strings("files", files))
	return lint.Run(doc, defs), nil
}

func (a *app) lintWatch(ctx context.Context, out io.Writer, asJSON bool) error {
	run := func() {
		result, err := a.lint()
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return
		}
		if err := report(out, result, asJSON); err != nil {
			a.logger.Warn("failed to print lint result", zap.Error(err))
		}
	}

	run()
	w := watch.New(a.cfg.Flow.Globs, []string{a.cfg.Flow.Dictionary},
		func(ctx context.Context, changed []string) {
			a.logger.Info("sources changed, linting again", zap.Strings("changed", changed))
			run()
		},
		watch.WithLogger(a.logger.Named("watch")))
	return w.Run(ctx)
}

func report(out io.Writer, result *lint.Result, asJSON bool) error {
	if asJSON {
		enc := jsonEncoder(out)
		return enc.Encode(result)
	}
	for _, is := range result.Issues {
		if _, err := fmt.Fprintln(out, is.String()); err != nil {
			return err
		}
	}
	errs := result.Errors()
	_, err := fmt.Fprintf(out, "%d errors, %d warnings\n", errs, len(result.Issues)-errs)
	return err
}
