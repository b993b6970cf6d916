package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
	httpserver "github.com/fyrsmithlabs/dispatchd/internal/http"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatchd HTTP API",
		Long: `Start the HTTP API with the agent catalog, learning history and,
when configured, NATS events and OpenTelemetry export.

Examples:
  # Start with ~/.config/dispatchd/config.yaml
  dispatchd serve

  # Override the port
  SERVER_HTTP_PORT=9500 dispatchd serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFile(opts.configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

// runServe serves HTTP until ctx is cancelled, then shuts down within the
// configured timeout.
func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close(context.Background())
	}()

	logger := a.logger.Underlying()
	srv, err := httpserver.NewServer(a.engine, a.executor, logger.Named("http"), &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("starting dispatchd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Int("agents", len(a.engine.ListAgents())),
		zap.String("history_backend", cfg.History.Backend),
		zap.Bool("events", cfg.Events.Enabled))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}
