// Package api provides the HTTP API for silence tokens and health checks.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/api/health"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/pkg/config"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address string
	// APIToken authorizes issuing tokens and managing silences. Empty
	// disables those routes.
	APIToken string
	// PublicURL is the externally reachable address used in redeem links.
	PublicURL      string
	RateLimitPerIP int
	Verbose        bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 30 // per minute
	}
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	storage       storage.Storage
	silences      SilenceService
	server        *http.Server
	handler       http.Handler
	healthHandler *health.Handler
	logger        zerolog.Logger
}

// New creates a new API server.
func New(cfg *Config, store storage.Storage, silences SilenceService, logger zerolog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if silences == nil {
		return nil, fmt.Errorf("silence service is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		storage:       store,
		silences:      silences,
		healthHandler: health.NewHandler(config.Version, logger),
		logger:        logger.With().Str("component", "api").Logger(),
	}

	s.handler = s.setupRouter()
	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP API listening")
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}

// SetPassReporter exposes the last evaluation pass on /health/ready.
func (s *Server) SetPassReporter(fn func() (health.PassSummary, bool)) {
	if s.healthHandler != nil {
		s.healthHandler.SetPassReporter(fn)
	}
}
