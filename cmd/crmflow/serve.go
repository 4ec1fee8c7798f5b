package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tjkivinen/crmflow/internal/config"
	"github.com/tjkivinen/crmflow/internal/server"
	"github.com/tjkivinen/crmflow/internal/telemetry"
)

// serveCmd starts the HTTP server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the crmflow HTTP server",
	Long: `Start the HTTP server exposing workflow runs over REST.

Endpoints:
  GET  /health               Health check
  GET  /metrics              Prometheus metrics
  POST /v1/requests          Execute a request
  POST /v1/requests/preview  Resolve and validate without executing

Examples:
  # Start with the default config
  crmflow serve

  # Override the port
  SERVER_PORT=9090 crmflow serve`,
	RunE: runServe,
}

// runServe starts the server and blocks until a shutdown signal arrives.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	// Shutdown on SIGINT or SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			app.log.Info("received signal, shutting down gracefully",
				zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	tel, err := telemetry.New(ctx, telemetryConfig(app.cfg), app.log)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			app.log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	srv, err := server.NewServer(app.engine, app.log, &server.Config{
		Port:            app.cfg.Server.Port,
		ShutdownTimeout: app.cfg.Server.ShutdownTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Register metrics endpoint
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	app.log.Info("server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", app.cfg.Server.Port)),
		zap.String("requests_endpoint", "/v1/requests"),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Bool("telemetry_enabled", tel.IsEnabled()))

	// Start server (blocks until context cancellation)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	app.log.Info("server shutdown complete")
	return nil
}

// telemetryConfig maps the loaded configuration onto the telemetry package,
// stamping the build version as the reported service version.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	return &telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Protocol:       cfg.Telemetry.Protocol,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
}
