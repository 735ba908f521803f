// Package server wires the HTTP API together: routing, handlers and the
// lifecycle of the poll loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"vigil/internal/auth"
	"vigil/internal/core"
	"vigil/internal/monitor/services"
	"vigil/internal/storage"
)

// Server is the Vigil HTTP server
type Server struct {
	config    *core.Config
	logger    *core.Logger
	store     storage.Store
	auth      *auth.Service
	authMW    *auth.Middleware
	scheduler *services.Scheduler
	validate  *validator.Validate
	server    *http.Server
}

// New creates a new server. The scheduler is started and stopped with the
// server itself.
func New(config *core.Config, logger *core.Logger, store storage.Store, authService *auth.Service, scheduler *services.Scheduler) *Server {
	s := &Server{
		config:    config,
		logger:    logger,
		store:     store,
		auth:      authService,
		authMW:    auth.NewMiddleware(authService, logger.ForComponent("auth")),
		scheduler: scheduler,
		validate:  validator.New(),
	}

	s.server = &http.Server{
		Addr:         config.Server.Addr,
		Handler:      s.routes(),
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	return s
}

// Start launches the poll loop and serves HTTP until Shutdown is called
func (s *Server) Start() error {
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start poll loop: %w", err)
	}

	s.logger.Info("Starting server", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the poll loop and the HTTP server within ctx's deadline
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.scheduler.Stop(ctx); err != nil {
		s.logger.Error("Failed to stop poll loop", "error", err)
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}
