package engine

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alfredjeanlab/flowd/internal/events"
	"github.com/alfredjeanlab/flowd/internal/gate"
	"github.com/alfredjeanlab/flowd/internal/store"
)

// Router is the dynamic route table adapters register their HTTP
// endpoints on. Paths are lower-case.
type Router interface {
	Register(method, path string, h http.Handler) error
	Deregister(method, path string)
}

// StatusListener is told when adapters become active or are torn down.
type StatusListener interface {
	AdapterActivated(a *Adapter)
	AdapterTornDown(a *Adapter)
}

// Limits bound the work adapters do per cycle.
type Limits struct {
	DefaultPageSize     int
	MaxPageSize         int
	MaxDeliveryAttempts int
	DispatchTimeout     time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = 10
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = 100
	}
	if l.DefaultPageSize > l.MaxPageSize {
		l.DefaultPageSize = l.MaxPageSize
	}
	if l.MaxDeliveryAttempts <= 0 {
		l.MaxDeliveryAttempts = 5
	}
	if l.DispatchTimeout <= 0 {
		l.DispatchTimeout = 30 * time.Second
	}
	return l
}

// Options configure a Runtime. Store, Gate and Router are required.
type Options struct {
	Store      store.Store
	Gate       gate.Gate
	Router     Router
	Subscriber events.Subscriber
	Publisher  events.Publisher
	Metrics    *Metrics
	HTTPClient *http.Client
	Listener   StatusListener
	Logger     *slog.Logger
	Limits     Limits
}

// Runtime bundles the collaborators shared by every adapter.
type Runtime struct {
	store      store.Store
	gate       gate.Gate
	router     Router
	subscriber events.Subscriber
	publisher  events.Publisher
	metrics    *Metrics
	client     *http.Client
	listener   StatusListener
	logger     *slog.Logger
	limits     Limits

	inbox      *Inbox
	outbox     *Outbox
	dispatcher *Dispatcher
	merger     *MergeCoordinator
}

// NewRuntime wires the shared inbox, outbox, dispatcher and merge
// coordinator around opts.
func NewRuntime(opts Options) *Runtime {
	rt := &Runtime{
		store:      opts.Store,
		gate:       opts.Gate,
		router:     opts.Router,
		subscriber: opts.Subscriber,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		client:     opts.HTTPClient,
		listener:   opts.Listener,
		logger:     opts.Logger,
		limits:     opts.Limits.withDefaults(),
	}
	if rt.publisher == nil {
		rt.publisher = &events.NoopPublisher{}
	}
	if rt.client == nil {
		rt.client = &http.Client{Timeout: rt.limits.DispatchTimeout}
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	rt.inbox = &Inbox{store: rt.store, limits: rt.limits, logger: rt.logger}
	rt.outbox = &Outbox{rt: rt}
	rt.dispatcher = &Dispatcher{rt: rt}
	rt.merger = &MergeCoordinator{rt: rt}
	return rt
}

// publish emits an event on the bus. Failures are logged and dropped.
func (rt *Runtime) publish(ctx context.Context, topic string, event any) {
	if err := rt.publisher.Publish(ctx, topic, event); err != nil {
		rt.logger.Warn("failed to publish event", "topic", topic, "err", err)
	}
}
