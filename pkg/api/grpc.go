package api

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the service name reported by the gRPC health server.
const HealthService = "dslbacktest.v1.Backtest"

// GRPCServer serves the standard health protocol and reflection next to the
// HTTP API.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewGRPCServer registers health and reflection. Both the overall status and
// HealthService start as SERVING.
func NewGRPCServer(logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(srv)
	return &GRPCServer{server: srv, health: hs, logger: logger}
}

// Serve blocks accepting connections on lis until Stop is called.
func (g *GRPCServer) Serve(lis net.Listener) error {
	g.logger.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING, then drains in-flight calls.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
	g.logger.Info("gRPC server stopped")
}
