// Package main provides the taxflow command line: lint flow declarations,
// resolve navigation, data views and the checklist for a return, manage
// stored returns and serve the same over HTTP.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dlovans/taxflow/internal/config"
	"github.com/dlovans/taxflow/internal/engine"
	"github.com/dlovans/taxflow/internal/logging"
	"github.com/dlovans/taxflow/pkg/navigate"
)

const (
	Version = "0.3.0"
	appName = "taxflow"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	verbose    bool
	flowGlobs  []string
	dictionary string
	storePath  string

	loaderOpts []config.LoaderOption

	cfg    *config.Config
	logger *zap.Logger
}

func rootCmd(loaderOpts ...config.LoaderOption) *cobra.Command {
	a := &app{loaderOpts: loaderOpts}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Tax return flow engine",
		Long: `taxflow evaluates a declarative tax return flow against a return's facts.

It answers where the filer goes next, what a subcategory's data view shows
and how far along the checklist the return is. Flow files and the fact
dictionary are checked by "taxflow lint".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (default: taxflow.yaml in this or a parent directory)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging")
	flags.StringSliceVar(&a.flowGlobs, "flow", nil, "Flow file globs, overriding flow.globs")
	flags.StringVar(&a.dictionary, "dictionary", "", "Fact dictionary, overriding flow.dictionary")
	flags.StringVar(&a.storePath, "store", "", "Return database, overriding store.path")

	cmd.AddCommand(
		lintCmd(a),
		nextCmd(a),
		firstCmd(a),
		incompleteCmd(a),
		dataViewCmd(a),
		checklistCmd(a),
		verifyCmd(a),
		returnsCmd(a),
		serveCmd(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

// setup loads configuration, applies flag overrides and builds the logger.
func (a *app) setup() error {
	opts := append([]config.LoaderOption(nil), a.loaderOpts...)
	if a.configPath != "" {
		opts = append(opts, config.WithFile(a.configPath))
	}
	cfg, err := config.NewLoader(nil, opts...).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(a.flowGlobs) > 0 {
		cfg.Flow.Globs = a.flowGlobs
	}
	if a.dictionary != "" {
		cfg.Flow.Dictionary = a.dictionary
	}
	if a.storePath != "" {
		cfg.Store.Path = a.storePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.FromConfig(cfg, a.verbose)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// engine loads the configured flow.
func (a *app) engine(observer navigate.Observer) (*engine.Engine, error) {
	return engine.Load(a.cfg, engine.OptionsFromConfig(a.cfg, a.logger, observer))
}

func printJSON(cmd *cobra.Command, v any) error {
	return jsonEncoder(cmd.OutOrStdout()).Encode(v)
}

func jsonEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}
