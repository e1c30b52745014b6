package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service reporting overall daemon readiness.
// Adapters report under HealthServiceName.
const ServiceName = "flowd"

// NewGRPCServer builds the gRPC side of the daemon: health checks, one
// service per live adapter via AdapterHealth, and reflection.
func NewGRPCServer(hs *health.Server, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoveryInterceptor, LoggingInterceptor, AuthInterceptor(authToken)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(authToken)),
	)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv
}
