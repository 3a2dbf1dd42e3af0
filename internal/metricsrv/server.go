// Package metricsrv serves the Prometheus exposition endpoint behind a
// bearer-token check.
//
// The server has exactly one route:
//
//	GET /metrics    Authorization: Bearer <token>
//
// A matching credential yields 200 with the text exposition; anything
// else yields 401 with a plain-text "Unauthorized" body. The server is
// optional at the process level: it only starts when metrics host and
// port are configured.
package metricsrv

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// Server wraps http.Server with graceful shutdown, signal handling, and
// lifecycle logging.
type Server struct {
	httpServer *http.Server
	config     Config
	logger     zerolog.Logger
}

// New creates a Server with the provided options. An exposition handler
// is required (use WithHandler).
//
// Example:
//
//	srv := metricsrv.New(
//	    metricsrv.WithAddr(cfg.Metrics.Addr()),
//	    metricsrv.WithAuthToken(cfg.Metrics.AuthToken),
//	    metricsrv.WithLogger(logger),
//	    metricsrv.WithHandler(registry.Handler()),
//	)
func New(opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.Logger

	mux := http.NewServeMux()
	if cfg.Handler != nil {
		mux.Handle("GET /metrics", cfg.Handler)
	}

	handler := chain(mux,
		RequestID(),
		RequestLogger(logger),
		BearerAuth(cfg.AuthToken),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		config: cfg,
		logger: logger,
	}
}

// Handler returns the fully wrapped handler. Used by tests to exercise
// the route without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGTERM, SIGINT), context cancellation, or a server error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.config.Handler == nil {
		return errors.New("metricsrv: exposition handler is required (use WithHandler)")
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(shutdownChan)

	serverErrChan := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", s.httpServer.Addr).
			Bool("auth", s.config.AuthToken != "").
			Msg("metrics server starting")

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
		close(serverErrChan)
	}()

	select {
	case err := <-serverErrChan:
		if err != nil {
			s.logger.Error().Err(err).Msg("metrics server error")
			return err
		}
	case sig := <-shutdownChan:
		s.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
		s.logger.Info().Err(ctx.Err()).Msg("context cancelled, shutting down")
	}

	return s.shutdown(ctx)
}

func (s *Server) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx),
		s.config.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("graceful shutdown failed, forcing close")
		if closeErr := s.httpServer.Close(); closeErr != nil {
			s.logger.Error().Err(closeErr).Msg("force close failed")
		}
		return err
	}

	s.logger.Info().Msg("metrics server stopped gracefully")
	return nil
}

// Shutdown initiates graceful shutdown programmatically.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
