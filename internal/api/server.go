package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/miradorstack/mirador-healing/internal/config"
	"github.com/miradorstack/mirador-healing/internal/models"
)

// Server owns the HTTP API listener and the gRPC health listener.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	httpLis    net.Listener
	grpcServer *grpc.Server
	grpcLis    net.Listener
	health     *health.Server
}

// NewServer binds both listeners. The gRPC side only carries grpc.health.v1.
func NewServer(cfg config.ServerConfig, handler http.Handler, opts ...grpc.ServerOption) (*Server, error) {
	httpLis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		_ = httpLis.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	grpc_prometheus.Register(grpcServer)
	reflection.Register(grpcServer)

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		httpLis:    httpLis,
		grpcServer: grpcServer,
		grpcLis:    grpcLis,
		health:     healthSrv,
	}, nil
}

// Start serves both listeners and returns the first fatal error.
func (s *Server) Start() error {
	if s.grpcServer == nil || s.httpServer == nil {
		return fmt.Errorf("server not initialised")
	}
	errCh := make(chan error, 2)
	go func() {
		errCh <- s.grpcServer.Serve(s.grpcLis)
	}()
	go func() {
		err := s.httpServer.Serve(s.httpLis)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	return <-errCh
}

// SetBand mirrors the health band onto the gRPC serving status.
func (s *Server) SetBand(band string) {
	if s.health == nil {
		return
	}
	s.health.SetServingStatus("", servingStatus(band))
}

func servingStatus(band string) healthpb.HealthCheckResponse_ServingStatus {
	if band == models.BandCritical {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Shutdown attempts a graceful shutdown, falling back to Stop after timeout.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}
	if s.grpcServer == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound HTTP listener address.
func (s *Server) Address() string {
	if s.httpLis == nil {
		return ""
	}
	return s.httpLis.Addr().String()
}

// GRPCAddress exposes the bound gRPC listener address.
func (s *Server) GRPCAddress() string {
	if s.grpcLis == nil {
		return ""
	}
	return s.grpcLis.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
