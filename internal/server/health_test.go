package server

import (
	"context"
	"net/http"
	"testing"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/flowd/internal/engine"
)

func TestAdapterHealth_FollowsLifecycle(t *testing.T) {
	hs := health.NewServer()
	_, _, h := newTestServer(t, func(o *engine.Options) {
		o.Listener = NewAdapterHealth(hs)
	})
	service := HealthServiceName("orders", "Intake")
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%s): %v", service, err)
		}
		return resp.GetStatus()
	}

	_ = do(t, h, http.MethodPost, "/v1/graphs", intakeGraph)
	if rec := do(t, h, http.MethodPost, "/v1/deployments", `{"graph_name":"orders","version":"1.0.0"}`); rec.Code != http.StatusOK {
		t.Fatalf("deploy: %d %s", rec.Code, rec.Body.String())
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status after deploy = %v, want SERVING", got)
	}

	_ = do(t, h, http.MethodDelete, "/v1/deployments?graph=orders", "")
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after teardown = %v, want NOT_SERVING", got)
	}
}

func TestHealthServiceName(t *testing.T) {
	if got := HealthServiceName("Orders", "Intake"); got != "flowd.adapter.orders.intake" {
		t.Errorf("HealthServiceName = %q", got)
	}
}
