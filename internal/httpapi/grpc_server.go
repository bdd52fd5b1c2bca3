package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"teamledger.io/internal/obs"
)

// GRPCServer exposes the standard gRPC health service backed by the same
// readiness check as /readyz.
type GRPCServer struct {
	health    *health.Server
	readiness ReadinessChecker
	log       *zap.Logger
}

// NewGRPCServer creates the health service wrapper. The service starts as
// NOT_SERVING until the first Refresh.
func NewGRPCServer(r ReadinessChecker) *GRPCServer {
	if r == nil {
		r = ReadinessCheck{}
	}
	s := &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		log:       obs.Logger().Named("grpc"),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches health and reflection services to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)
}

// Refresh runs the readiness check and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) error {
	status := healthpb.HealthCheckResponse_SERVING
	err := s.readiness.Check(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(err == nil)
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
	return err
}

// Watch refreshes readiness every interval until ctx is done.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn("readiness check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown marks every service NOT_SERVING so clients drain first.
func (s *GRPCServer) Shutdown() {
	obs.SetReady(false)
	s.health.Shutdown()
}
