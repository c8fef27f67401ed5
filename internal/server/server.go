package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcogenualdo/redsktop-proxy/internal/auth"
	"github.com/marcogenualdo/redsktop-proxy/internal/cache"
	"github.com/marcogenualdo/redsktop-proxy/internal/config"
	"github.com/marcogenualdo/redsktop-proxy/internal/tokenstore"
)

// Deps are the long-lived resources the server owns and closes on shutdown.
type Deps struct {
	Cache      cache.Cache
	Handshake  cache.Cache
	UserTokens tokenstore.Store
	Provider   auth.Provider
	HTTPClient *http.Client
}

type Server struct {
	cfg        *config.Config
	deps       Deps
	logger     *slog.Logger
	httpServer *http.Server
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Cache == nil || deps.Handshake == nil || deps.UserTokens == nil {
		return nil, errors.New("cache, handshake store and token store are required")
	}
	if deps.Provider == nil {
		return nil, errors.New("oauth provider is required")
	}

	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}, nil
}

func (s *Server) Start() error {
	router, err := s.setupRoutes()
	if err != nil {
		return fmt.Errorf("failed to setup routes: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"host", s.cfg.Server.Host,
			"port", s.cfg.Server.Port,
			"public_base_url", s.cfg.Server.PublicBaseURL,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		s.closeStores()
		return err
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig)
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("shutting down server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			s.closeStores()
			return err
		}
	}

	s.closeStores()

	s.logger.Info("server shutdown complete")
	return nil
}

func (s *Server) closeStores() {
	if err := s.deps.Cache.Close(); err != nil {
		s.logger.Error("error closing cache", "error", err)
	}
	if err := s.deps.Handshake.Close(); err != nil {
		s.logger.Error("error closing handshake store", "error", err)
	}
	if err := s.deps.UserTokens.Close(); err != nil {
		s.logger.Error("error closing token store", "error", err)
	}
}
