package server

import (
	"strings"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/flowd/internal/engine"
)

// AdapterHealth mirrors adapter lifecycle into the gRPC health service: one
// service name per adapter, SERVING while it is active.
type AdapterHealth struct {
	hs *health.Server
}

var _ engine.StatusListener = (*AdapterHealth)(nil)

func NewAdapterHealth(hs *health.Server) *AdapterHealth {
	return &AdapterHealth{hs: hs}
}

func (h *AdapterHealth) AdapterActivated(a *engine.Adapter) {
	h.hs.SetServingStatus(HealthServiceName(a.Graph(), a.Name()), healthpb.HealthCheckResponse_SERVING)
}

func (h *AdapterHealth) AdapterTornDown(a *engine.Adapter) {
	h.hs.SetServingStatus(HealthServiceName(a.Graph(), a.Name()), healthpb.HealthCheckResponse_NOT_SERVING)
}

// HealthServiceName is the gRPC health service name of an adapter.
func HealthServiceName(graph, adapter string) string {
	return "flowd.adapter." + strings.ToLower(graph) + "." + strings.ToLower(adapter)
}
