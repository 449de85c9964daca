package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aescanero/synthflow/internal/application/workers"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name of the orchestrator.
const ServiceName = "synthflow.Orchestrator"

// Server represents the gRPC API server. It serves the standard health
// protocol, driven by the slot pool health monitor.
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	monitor  *workers.HealthMonitor
	interval time.Duration
	logger   *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config holds gRPC server configuration
type Config struct {
	Port          int
	Health        *workers.HealthMonitor
	CheckInterval time.Duration
	Logger        *zap.Logger
}

// NewServer creates a new gRPC server
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	s := &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		monitor:  cfg.Health,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	s.updateHealth()

	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	go s.watchHealth()

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.stopOnce.Do(func() { close(s.stopCh) })
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}

func (s *Server) watchHealth() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.updateHealth()
		}
	}
}

func (s *Server) updateHealth() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.monitor != nil && !s.monitor.IsHealthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
