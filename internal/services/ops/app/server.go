// Package server wires the ops HTTP API and its gRPC health endpoint into
// one process lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/freightdesk/internal/platform/timeouts"
)

// HealthService is the name reported by the gRPC health server.
const HealthService = "freightdesk.ops"

// Closer releases a backing resource, typically the entity store.
type Closer interface {
	Close() error
}

// Config describes the listeners and the HTTP handler to serve.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	Handler  http.Handler
	Store    Closer
	Logger   *slog.Logger
}

// Server hosts the HTTP API and the gRPC health service.
type Server struct {
	httpListener net.Listener
	grpcListener net.Listener
	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	store        Closer
	logger       *slog.Logger
	closeOnce    sync.Once
}

// New opens both listeners. Addresses ending in ":0" pick a free port.
func New(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("http handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpListener.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		httpListener: httpListener,
		grpcListener: grpcListener,
		httpServer: &http.Server{
			Handler:           cfg.Handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		grpcServer: grpcServer,
		health:     healthServer,
		store:      cfg.Store,
		logger:     cfg.Logger,
	}, nil
}

// HTTPAddr returns the HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the gRPC listener address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Serve runs both servers until ctx is canceled or one of them fails, then
// shuts the other down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	errCh := make(chan error, 2)
	go func() {
		err := s.httpServer.Serve(s.httpListener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	go func() {
		err := s.grpcServer.Serve(s.grpcListener)
		if errors.Is(err, grpc.ErrServerStopped) {
			err = nil
		}
		errCh <- err
	}()
	s.logger.Info("ops server listening", slog.String("http", s.HTTPAddr()), slog.String("grpc", s.GRPCAddr()))

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	s.shutdown()
	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}

func (s *Server) shutdown() {
	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", slog.Any("error", err))
	}
	s.grpcServer.GracefulStop()
}

// Close releases the listeners and the store. It is safe to call more than
// once.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		if s.httpListener != nil {
			_ = s.httpListener.Close()
		}
		if s.grpcListener != nil {
			_ = s.grpcListener.Close()
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				s.logger.Warn("close store", slog.Any("error", err))
			}
		}
	})
}
