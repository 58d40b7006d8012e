package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crawlspace-dev/crawlspace/internal/app"
)

// Server owns the HTTP listener and the route table. Scrape and crawl
// handlers can hold a connection for the full job budget, so the write
// timeout is generous while reads stay tight.
type Server struct {
	app    *app.App
	server *http.Server
}

// New builds the server around an already-started App.
func New(application *app.App) *Server {
	s := &Server{app: application}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port),
		Handler:      s.withMiddleware(s.setupRoutes()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start blocks on ListenAndServe until Shutdown or a listener error.
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
