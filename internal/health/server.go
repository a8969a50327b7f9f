// Package health exposes dispatcher liveness over the standard gRPC health protocol.
package health

import (
	"fmt"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DispatcherService is the health service name reporting the dispatch loop.
const DispatcherService = "timed_dispatch.Dispatcher"

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger
}

// NewServer starts every service as NOT_SERVING until a dispatcher is tracked.
func NewServer(logger *slog.Logger) *Server {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(DispatcherService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &Server{
		grpcServer: grpcServer,
		health:     hs,
		logger:     logger.With("component", "health"),
	}
}

// TrackDispatcher reports SERVING until done closes, then NOT_SERVING for good.
func (s *Server) TrackDispatcher(done <-chan struct{}) {
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	go func() {
		<-done
		s.logger.Warn("dispatcher stopped, reporting NOT_SERVING")
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}()
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(DispatcherService, status)
}

// Serve blocks serving on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}

// Stop marks everything NOT_SERVING, tells watchers, and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
