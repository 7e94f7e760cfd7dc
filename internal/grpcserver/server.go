package grpcserver

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/trace"
)

// StatusFunc reports the orchestrator state.
type StatusFunc func() orchestrator.Status

// Server wraps a gRPC server carrying the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	status StatusFunc
}

// New creates the server. The overall service is SERVING until Shutdown;
// CaptureService follows status.
func New(status StatusFunc) *Server {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, status: status}
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.Sync()
	return s
}

// Sync updates CaptureService from the current status. Capture is
// serving while a live input is configured and its breaker is not open.
func (s *Server) Sync() healthpb.HealthCheckResponse_ServingStatus {
	st := s.status()
	next := healthpb.HealthCheckResponse_SERVING
	if !st.LiveInput || st.InputBreaker == "open" {
		next = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(CaptureService, next)
	return next
}

// Watch calls Sync every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := s.Sync()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if next := s.Sync(); next != last {
				trace.Logger(ctx).Info("capture health changed", "from", last, "to", next)
				last = next
			}
		}
	}
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
