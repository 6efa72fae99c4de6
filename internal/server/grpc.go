package server

import (
	"cdr.dev/slog/v3"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"club-manager/backend/internal/health"
	"club-manager/backend/internal/server/interceptors"
)

// NewGRPCServer returns a gRPC server with tracing, RPC logging and the health service registered.
func NewGRPCServer(checker *health.Checker, logger slog.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(logger, nil, nil)),
	)
	RegisterServices(s, checker)
	return s
}

// RegisterServices registers the gRPC services with the given server.
//
//   - grpc.health.v1.Health → internal/health
func RegisterServices(s grpc.ServiceRegistrar, checker *health.Checker) {
	healthpb.RegisterHealthServer(s, checker.GRPCServer())
}
