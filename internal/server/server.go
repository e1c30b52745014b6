package server

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alfredjeanlab/flowd/internal/engine"
	"github.com/alfredjeanlab/flowd/internal/events"
	"github.com/alfredjeanlab/flowd/internal/store"
)

// Server is the flowd management API: graph catalogue, deployments, flow
// event queries and the event stream. Requests it does not handle fall
// through to the adapters' dynamic routes.
type Server struct {
	store     store.Store
	manager   *engine.Manager
	router    *DynamicRouter
	hub       *SSEHub
	publisher events.Publisher
	gatherer  prometheus.Gatherer
}

// Options collect the collaborators a Server is built from. Publisher and
// Gatherer are optional.
type Options struct {
	Store     store.Store
	Manager   *engine.Manager
	Router    *DynamicRouter
	Hub       *SSEHub
	Publisher events.Publisher
	Gatherer  prometheus.Gatherer
}

// New returns a Server over opts.
func New(opts Options) *Server {
	s := &Server{
		store:     opts.Store,
		manager:   opts.Manager,
		router:    opts.Router,
		hub:       opts.Hub,
		publisher: opts.Publisher,
		gatherer:  opts.Gatherer,
	}
	if s.router == nil {
		s.router = NewDynamicRouter()
	}
	if s.hub == nil {
		s.hub = NewSSEHub()
	}
	if s.publisher == nil {
		s.publisher = s.hub
	}
	return s
}

// publish emits an event. It is best-effort; failures are logged but do not
// block the caller.
func (s *Server) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "err", err)
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }
