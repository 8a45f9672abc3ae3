package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/inferops/engine"
	"github.com/jonwraymond/inferops/health"
	"github.com/jonwraymond/inferops/observe"
)

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health endpoints and sweep expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				mux := http.NewServeMux()
				health.RegisterHandlers(mux, a.checks)
				srv := &http.Server{
					Addr:              a.cfg.Server.Addr,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}

				sweeper := engine.NewSweeper(a.engine, a.cfg.Engine.SweepInterval, a.logger)
				go func() { _ = sweeper.Run(ctx) }()

				errCh := make(chan error, 1)
				go func() { errCh <- srv.ListenAndServe() }()
				a.logger.Info(ctx, "serving health endpoints", observe.F("addr", srv.Addr))

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
}
