package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/handlers"
)

// Handlers collects the route handlers the server dispatches to. Wiring
// them up is the entry point's job; the server only routes.
type Handlers struct {
	Search    *handlers.SearchHandler
	Origins   *handlers.OriginsHandler
	Varietals *handlers.VarietalsHandler
	Currency  *handlers.CurrencyHandler
	AI        *handlers.AIHandler
	Admin     *handlers.AdminHandler
	API       *handlers.APIHandler
}

// Server manages the HTTP server and routes
type Server struct {
	config   *common.Config
	logger   arbor.ILogger
	handlers Handlers
	router   *http.ServeMux
	server   *http.Server
}

// New creates a new HTTP server with the given handlers
func New(config *common.Config, logger arbor.ILogger, h Handlers) *Server {
	s := &Server{
		config:   config,
		logger:   logger,
		handlers: h,
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
