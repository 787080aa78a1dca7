package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/registry-console/app"
	"github.com/upb/registry-console/routes"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the console HTTP server",
		Long: `Start the console HTTP server.

Examples:
  registry-console serve
  registry-console serve --addr 0.0.0.0:4200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withDeps(cmd, func(_ context.Context, deps *app.Dependencies) error {
				if addr == "" {
					addr = deps.Config.Server.Address()
				}
				return runServer(ctx, deps, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address to listen on (default from SERVER_HOST and SERVER_PORT)")

	return cmd
}

func runServer(ctx context.Context, deps *app.Dependencies, addr string) error {
	cfg := deps.Config.Server
	logger := deps.Logger

	srv := &http.Server{
		Addr:              addr,
		Handler:           routes.SetupRoutes(deps),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("registry console listening",
			zap.String("addr", addr),
			zap.String("environment", deps.Config.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
