package events

import (
	"context"

	"github.com/alfredjeanlab/flowd/internal/model"
)

// Event topic constants
const (
	TopicFlowEventCompleted = "flow.event.completed"
	TopicFlowEventRejected  = "flow.event.rejected"

	TopicGraphRegistered = "flow.graph.registered"
	TopicGraphDeployed   = "flow.graph.deployed"
	TopicGraphTornDown   = "flow.graph.torndown"

	// Adapter lifecycle events (emitted per adapter by the lifecycle manager).
	TopicAdapterActivated = "flow.adapter.activated"
	TopicAdapterTornDown  = "flow.adapter.torndown"
)

// Event types

type FlowEventCompleted struct {
	FlowEvent *model.FlowEvent `json:"flow_event"`
}

type FlowEventRejected struct {
	FlowEvent *model.FlowEvent `json:"flow_event"`
	Reason    string           `json:"reason"`
}

type GraphRegistered struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type GraphDeployed struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Adapters []string `json:"adapters"`
}

type GraphTornDown struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type AdapterLifecycle struct {
	Graph   string            `json:"graph"`
	Version string            `json:"version"`
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Type    model.AdapterType `json:"type"`
}

// Publisher emits events onto the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives raw event payloads from the bus. The cancel function
// returned by Subscribe ends the subscription and closes the channel; it is
// safe to call more than once.
type Subscriber interface {
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// NoopPublisher discards every event. It stands in when no bus is wired.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (*NoopPublisher) Close() error                               { return nil }
