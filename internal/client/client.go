// Package client provides a transport-agnostic interface for the flowd
// management API and an HTTP/JSON implementation of it.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/flowd/internal/model"
)

// FlowClient is the interface flowd CLI commands use to talk to a server.
type FlowClient interface {
	// Graph catalogue
	RegisterGraph(ctx context.Context, document []byte) (*model.Graph, error)
	ListGraphs(ctx context.Context) ([]*model.GraphSummary, error)
	GetGraph(ctx context.Context, name, version string) (*model.Graph, error)

	// Deployments
	Deploy(ctx context.Context, dep *model.GraphDeployment) (*DeployResult, error)
	Teardown(ctx context.Context, graph, version string) error
	ListDeployments(ctx context.Context) ([]*Deployment, error)
	GetDeployment(ctx context.Context, graph string) (*Deployment, error)

	// Adapter endpoints
	Push(ctx context.Context, graph, adapter string, payload []byte) (*model.FlowEvent, error)
	BackPressure(ctx context.Context, graph, adapter string) (*model.BackPressure, error)
	Peek(ctx context.Context, graph, adapter string) (*model.QueueRead, error)
	Pop(ctx context.Context, graph, adapter string) (*model.QueueRead, error)

	// Flow events
	GetFlowEvent(ctx context.Context, id string) (*model.FlowEvent, error)
	ListFlowEvents(ctx context.Context, req *ListFlowEventsRequest) ([]*model.FlowEvent, error)

	// Event stream
	Stream(ctx context.Context, topics []string, fn func(StreamEvent) error) error

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// DeployResult reports what a deployment did with each adapter.
type DeployResult struct {
	Graph    string            `json:"graph"`
	Version  string            `json:"version"`
	Deployed []string          `json:"deployed"`
	Skipped  []string          `json:"skipped,omitempty"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// Deployment is a live graph and, when fetched individually, its adapters.
type Deployment struct {
	Graph    string                `json:"graph"`
	Version  string                `json:"version"`
	Adapters []model.AdapterStatus `json:"adapters,omitempty"`
}

// ListFlowEventsRequest holds the flow event query filters.
type ListFlowEventsRequest struct {
	BatchID   string
	AdapterID string
	Graph     string
	Since     *time.Time
	Limit     int
}

// StreamEvent is one server-sent event.
type StreamEvent struct {
	ID    string
	Topic string
	Data  []byte
}
