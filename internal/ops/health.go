// Package ops exposes the standard gRPC health service for orchestrators.
package ops

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "agribot.Dispatcher"

const (
	defaultProbeInterval = 15 * time.Second
	probeTimeout         = 2 * time.Second
)

// Pinger is checked to decide whether the service can serve.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer serves grpc.health.v1.Health backed by periodic store probes.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	logger   *slog.Logger
	serving  bool
}

// NewHealthServer creates a health server. It starts NOT_SERVING until the
// first probe succeeds.
func NewHealthServer(pinger Pinger, interval time.Duration, logger *slog.Logger) *HealthServer {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	s := &HealthServer{
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		pinger:   pinger,
		interval: interval,
		logger:   logger,
	}
	s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	grpc_health_v1.RegisterHealthServer(s.server, s.health)
	return s
}

// Serve probes once, then serves on lis and keeps probing until ctx is done.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	s.probe(ctx)
	go s.probeLoop(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}

// Start listens on addr and serves in the background until ctx is done.
func Start(ctx context.Context, addr string, pinger Pinger, interval time.Duration, logger *slog.Logger) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := NewHealthServer(pinger, interval, logger)
	go func() {
		if err := s.Serve(ctx, lis); err != nil {
			logger.Error("gRPC health server failed", "error", err)
		}
	}()
	return s, nil
}

func (s *HealthServer) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

func (s *HealthServer) probe(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := s.pinger.Ping(pingCtx)
	ok := err == nil
	if ok == s.serving {
		return
	}
	s.serving = ok
	if ok {
		s.logger.Info("Store reachable, reporting SERVING")
		s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
		return
	}
	s.logger.Warn("Store unreachable, reporting NOT_SERVING", "error", err)
	s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

func (s *HealthServer) setStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
