package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/solatis/meterkeeper/internal/core/auth"
	"github.com/solatis/meterkeeper/internal/core/config"
	"github.com/solatis/meterkeeper/internal/logging"
)

// Server runs the REST API and the gRPC health service together.
type Server struct {
	HTTP   *HTTPServer
	GRPC   *GRPCServer
	logger *slog.Logger
}

// New assembles both listeners.
func New(cfg *config.ServerConfig, handler http.Handler, authenticator *auth.Authenticator, logger *slog.Logger) (*Server, error) {
	httpServer, err := NewHTTPServer(cfg, handler)
	if err != nil {
		return nil, err
	}
	grpcServer, err := NewGRPCServer(cfg, authenticator)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{HTTP: httpServer, GRPC: grpcServer, logger: logger}, nil
}

// Listen binds both listeners. Run calls it when the caller has not.
func (s *Server) Listen() error {
	if s.HTTP.listener == nil {
		if err := s.HTTP.Listen(); err != nil {
			return err
		}
	}
	if s.GRPC.listener == nil {
		if err := s.GRPC.Listen(); err != nil {
			s.HTTP.listener.Close()
			return err
		}
	}
	return nil
}

// Run serves until ctx is cancelled or either server fails, then shuts
// both down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.logger.Info("listening", "http", s.HTTP.Addr().String(), "grpc", s.GRPC.Addr().String())

	errs := make(chan error, 2)
	go func() { errs <- s.HTTP.Serve() }()
	go func() { errs <- s.GRPC.Serve() }()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case runErr = <-errs:
		s.logger.Error("server stopped", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return errors.Join(runErr, s.HTTP.Shutdown(shutdownCtx), s.GRPC.Shutdown(shutdownCtx))
}

// WaitReady polls /healthz until it answers 200 or ctx ends.
func WaitReady(ctx context.Context, baseURL string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
		if err != nil {
			return err
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
