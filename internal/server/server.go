// Package server provides the HTTP API for running CRM workflows.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/tjkivinen/crmflow/internal/notify"
	"github.com/tjkivinen/crmflow/internal/workflow"
)

// Runner executes and previews workflow runs.
type Runner interface {
	Run(ctx context.Context, rawText string) (*workflow.Run, error)
	Preview(ctx context.Context, rawText string) (*workflow.Preview, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Server exposes workflow runs over HTTP.
type Server struct {
	echo   *echo.Echo
	runner Runner
	logger *zap.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(runner Runner, logger *zap.Logger, cfg *Config) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		runner: runner,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.echo.Group("/v1")
	v1.POST("/requests", s.handleRequest)
	v1.POST("/requests/preview", s.handlePreview)
}

// RunRequest is the request body for POST /v1/requests.
type RunRequest struct {
	Text string `json:"text"`
}

// RunResponse is the response body for POST /v1/requests.
type RunResponse struct {
	Run     *workflow.Run `json:"run"`
	Summary string        `json:"summary"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleRequest executes a workflow run for the submitted request text.
// The run always reaches a terminal state; workflow failures are reported
// in the body, not the HTTP status.
func (s *Server) handleRequest(c echo.Context) error {
	req, err := bindRunRequest(c)
	if err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return err
	}

	run, err := s.runner.Run(c.Request().Context(), req.Text)
	if err != nil {
		s.logger.Error("run interrupted", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "run interrupted")
	}

	return c.JSON(http.StatusOK, RunResponse{
		Run:     run,
		Summary: notify.Compose(run).Subject,
	})
}

// handlePreview resolves and validates without executing CRM actions.
func (s *Server) handlePreview(c echo.Context) error {
	req, err := bindRunRequest(c)
	if err != nil {
		s.logger.Warn("invalid preview request", zap.Error(err))
		return err
	}

	preview, err := s.runner.Preview(c.Request().Context(), req.Text)
	if err != nil {
		s.logger.Error("preview interrupted", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "preview interrupted")
	}

	return c.JSON(http.StatusOK, preview)
}

func bindRunRequest(c echo.Context) (RunRequest, error) {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}
	return req, nil
}

// Start starts the HTTP server and blocks until context is cancelled.
//
// When the context is cancelled, the server performs graceful shutdown
// with the configured timeout. Returns http.ErrServerClosed on graceful
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.ShutdownTimeout,
		)
		defer cancel()

		s.logger.Info("shutting down http server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional
// routes, such as the metrics endpoint.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
