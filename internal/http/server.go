// Package http hosts plannerd's HTTP surface: health and status
// endpoints for operators, request logging and metrics middleware, and
// the mount point for the versioned planning API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/store"
)

// StatusSource reports resource counts for the status endpoint.
type StatusSource interface {
	Counts(ctx context.Context) (store.Counts, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// Options configures the server.
type Options struct {
	Config  Config
	Logger  *zap.Logger
	Metrics *Metrics

	// Status backs GET /status; nil hides the counts.
	Status StatusSource

	// Services names the wired collaborators shown on /status, for
	// example calendar -> google.
	Services map[string]string

	Version string
}

// Server hosts plannerd's HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	logger   *zap.Logger
	config   Config
	status   StatusSource
	services map[string]string
	version  string
}

// NewServer creates a new HTTP server.
//
// The server includes the recover, request-id, and request-logging
// middleware, plus metrics instrumentation when Options.Metrics is
// set. The versioned API registers its own routes on Echo().
func NewServer(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if opts.Config.Port == 0 {
		opts.Config.Port = 8484
	}
	if opts.Config.ShutdownTimeout <= 0 {
		opts.Config.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if opts.Metrics != nil {
		e.Use(opts.Metrics.Middleware())
	}
	e.Use(requestLogger(opts.Logger))

	s := &Server{
		echo:     e,
		logger:   opts.Logger,
		config:   opts.Config,
		status:   opts.Status,
		services: opts.Services,
		version:  opts.Version,
	}
	s.registerRoutes()
	return s, nil
}

// requestLogger logs one line per request with the request id.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	}
}

// registerRoutes sets up the operator endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "plannerd"})
}

// handleStatus reports the wired collaborators and resource counts.
// Count failures degrade the status instead of failing the request so
// the endpoint stays useful while the store is down.
func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{
		Status:   "ok",
		Version:  s.version,
		Services: s.services,
	}

	if s.status != nil {
		counts, err := s.status.Counts(c.Request().Context())
		if err != nil {
			s.logger.Warn("status counts failed", zap.Error(err))
			resp.Status = "degraded"
		} else {
			resp.Counts = &counts
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully within the configured timeout.
//
// Returns http.ErrServerClosed on graceful shutdown, or any other
// error encountered during startup or shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
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
// routes, such as the versioned API and the metrics endpoint.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
