// Package server wraps http.Server with lifecycle management suited to
// long-lived websocket sessions.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Config holds HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// DefaultConfig returns the server defaults. Read and write timeouts stay
// unset: interview sessions hold their connection open for the whole
// interview, and the session layer enforces its own write deadlines.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Server wraps the HTTP server.
type Server struct {
	http *http.Server
	log  *slog.Logger
}

// New creates a Server serving handler.
func New(handler http.Handler, cfg Config, log *slog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		log: log,
	}
}

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Serve accepts connections on l until the server stops. Used by tests to
// bind an ephemeral port.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("http server listening", "addr", l.Addr().String())
	if err := s.http.Serve(l); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http server shutting down")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
