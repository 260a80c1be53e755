// Package http provides the admin/status HTTP API for tvshift.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tvshift/tvshift/internal/config"
	"github.com/tvshift/tvshift/internal/http/middleware"
)

const shutdownTimeout = 10 * time.Second

// Server is the admin HTTP server. Operational state is exposed
// read-only; the session protocol is the only mutating surface.
type Server struct {
	cfg        config.AdminConfig
	router     *chi.Mux
	api        huma.API
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the router, middleware chain and API surface.
func NewServer(cfg config.AdminConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))

	humaConfig := huma.DefaultConfig("tvshift API", version)
	humaConfig.Info.Description = "Time-shift buffer admin and status API"
	api := humachi.New(router, humaConfig)

	return &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		logger: logger,
	}
}

// API returns the Huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the Chi router for registering additional routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Listen binds the server's listener.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the server until the context is cancelled, then shuts down
// gracefully. Call Listen first.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("http: Serve called before Listen")
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("admin server listening", slog.String("addr", s.listener.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("serving admin api: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down admin api: %w", err)
		}
		return <-errChan
	case err := <-errChan:
		return err
	}
}
