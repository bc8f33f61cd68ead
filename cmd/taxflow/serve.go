package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dlovans/taxflow/internal/engine"
	"github.com/dlovans/taxflow/internal/metrics"
	"github.com/dlovans/taxflow/internal/server"
	"github.com/dlovans/taxflow/internal/watch"
)

func serveCmd(a *app) *cobra.Command {
	var (
		addr     string
		noReload bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve navigation, data views and the checklist over HTTP",
		Long: `Serve exposes the loaded flow as a JSON API:

  POST /v1/next, /v1/first, /v1/incomplete, /v1/dataview, /v1/checklist, /v1/verify
  GET|POST /v1/returns, GET|PUT|DELETE /v1/returns/{id}
  GET /healthz, /metrics

The flow reloads when its files change; a flow that fails to build is
reported and the previous one keeps serving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, !noReload)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overriding server.addr")
	cmd.Flags().BoolVar(&noReload, "no-reload", false, "Do not watch flow files for changes")
	return cmd
}

func (a *app) serve(ctx context.Context, reload bool) error {
	m := metrics.New()
	e, err := a.engine(m)
	if err != nil {
		return err
	}
	m.ObserveReload(len(e.Graph.Screens()), nil)

	opts := []server.Option{
		server.WithMetrics(m),
		server.WithLogger(a.logger.Named("server")),
	}
	if a.cfg.Store.Path != "" {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, server.WithStore(st))
	} else {
		a.logger.Warn("no store configured, /v1/returns is disabled")
	}
	srv := server.New(e, opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, a.cfg.Server.Addr, a.cfg.Server.ShutdownTimeout, nil)
	})
	if reload {
		w := watch.New(a.cfg.Flow.Globs, []string{a.cfg.Flow.Dictionary, a.cfg.Signals.File},
			func(ctx context.Context, changed []string) {
				a.logger.Info("flow sources changed", zap.Strings("changed", changed))
				_ = srv.Reload(func() (*engine.Engine, error) { return a.engine(m) })
			},
			watch.WithLogger(a.logger.Named("watch")))
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}
