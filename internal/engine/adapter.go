// Package engine runs deployed graphs: one runtime adapter per declared
// adapter, each with its own scheduler, inbox, outbox and dispatcher leg.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/alfredjeanlab/flowd/internal/events"
	"github.com/alfredjeanlab/flowd/internal/gate"
	"github.com/alfredjeanlab/flowd/internal/idgen"
	"github.com/alfredjeanlab/flowd/internal/model"
)

// State is an adapter's lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateTornDown:
		return "torn_down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type route struct {
	method string
	path   string
}

// Adapter is the runtime instance of one declared adapter of a deployed
// graph.
type Adapter struct {
	rt       *Runtime
	graph    string
	version  string
	decl     model.AdapterDecl
	endpoint *url.URL
	target   gate.Target
	tags     map[string]string
	caps     capabilities
	upstream map[string]string // adapter id -> name
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	sched       *scheduler
	routes      []route
	unsubscribe func()
	limiter     *rate.Limiter

	popMu    sync.Mutex
	history  sampleHistory
	open     atomic.Int64
	inflight sync.WaitGroup

	claimMu sync.Mutex
	claimed map[string]struct{} // inbox message ids being delivered
}

// newAdapter resolves decl against g. decl must already have any deploy
// overrides applied.
func newAdapter(rt *Runtime, g *model.Graph, decl model.AdapterDecl, tags map[string]string) (*Adapter, error) {
	caps, ok := capabilitiesFor(decl.Type)
	if !ok {
		return nil, &ConfigError{Adapter: decl.Name, Err: fmt.Errorf("unknown adapter type %q", decl.Type)}
	}
	decl.Settings = decl.Settings.WithDefaults()
	decl.Egress = decl.Egress.WithDefaults()
	if caps.forceSync {
		decl.Egress.Type = model.EgressSync
	}
	if rt.limits.MaxPageSize > 0 && decl.Settings.InboxPageSize > rt.limits.MaxPageSize {
		decl.Settings.InboxPageSize = rt.limits.MaxPageSize
	}

	a := &Adapter{
		rt:       rt,
		graph:    g.Name,
		version:  g.Version,
		decl:     decl,
		tags:     tags,
		caps:     caps,
		upstream: make(map[string]string, len(decl.Upstream)),
		target:   gate.NewTarget(g.Schema, &decl),
		claimed:  make(map[string]struct{}),
	}
	for _, id := range decl.Upstream {
		if up := g.AdapterByID(id); up != nil {
			a.upstream[id] = up.Name
		}
	}
	if decl.Type.CallsTarget() && !decl.Settings.Passthrough {
		u, err := model.ParseEndpoint(decl.Endpoint)
		if err != nil {
			return nil, &ConfigError{Adapter: decl.Name, Err: err}
		}
		a.endpoint = u
	}
	if decl.Settings.PushRateLimit > 0 {
		burst := int(decl.Settings.PushRateLimit)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(decl.Settings.PushRateLimit), burst)
	}

	attrs := []any{"graph", g.Name, "version", g.Version, "adapter", decl.Name, "adapter_id", decl.ID, "type", decl.Type}
	for k, v := range tags {
		attrs = append(attrs, "tag."+k, v)
	}
	a.logger = rt.logger.With(attrs...)
	return a, nil
}

func (a *Adapter) ID() string              { return a.decl.ID }
func (a *Adapter) Name() string            { return a.decl.Name }
func (a *Adapter) Graph() string           { return a.graph }
func (a *Adapter) Version() string         { return a.version }
func (a *Adapter) Type() model.AdapterType { return a.decl.Type }

// State returns the adapter's current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Initialize wires the adapter's capabilities. On failure everything wired
// so far is released and the adapter ends torn down.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateUninitialized {
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("adapter %s: cannot initialize from state %s", a.Name(), state)
	}
	a.state = StateInitializing
	a.mu.Unlock()

	if err := a.wire(ctx); err != nil {
		a.unwire()
		a.mu.Lock()
		a.state = StateTornDown
		a.mu.Unlock()
		a.logger.Error("adapter initialization failed", "err", err)
		return err
	}

	a.mu.Lock()
	a.state = StateActive
	a.mu.Unlock()
	a.rt.metrics.adapterActivated(a)
	if a.rt.listener != nil {
		a.rt.listener.AdapterActivated(a)
	}
	a.logger.Info("adapter active", "routes", len(a.routes))
	return nil
}

func (a *Adapter) wire(ctx context.Context) error {
	s := a.decl.Settings
	a.sched = newScheduler(a.logger)

	if a.caps.backPressure {
		a.sched.Every("back-pressure", s.BackPressurePollFrequency(), a.sampleBackPressure)
		if err := a.register(http.MethodGet, "back-pressure", http.HandlerFunc(a.handleBackPressure)); err != nil {
			return err
		}
	}
	if a.caps.inbox {
		a.sched.Every("inbox", s.InboxPollFrequency(), a.pollInbox)
	}
	if a.caps.externalPoll {
		if a.decl.Poll == nil || a.decl.Poll.Endpoint == "" {
			return &ConfigError{Adapter: a.Name(), Err: fmt.Errorf("poll adapter has no poll endpoint")}
		}
		if _, err := model.ParseEndpoint(a.decl.Poll.Endpoint); err != nil {
			return &ConfigError{Adapter: a.Name(), Err: err}
		}
		a.sched.Every("external-poll", a.decl.Poll.Frequency(), a.pollExternal)
	}
	if a.caps.broker {
		if err := a.subscribe(); err != nil {
			return err
		}
	}
	if a.caps.push {
		push := http.HandlerFunc(a.handlePush)
		if err := a.register(http.MethodPost, "push", push); err != nil {
			return err
		}
		if err := a.register(http.MethodPut, "push", push); err != nil {
			return err
		}
	}
	if a.caps.queue {
		if err := a.register(http.MethodGet, "queue/peek", http.HandlerFunc(a.handlePeek)); err != nil {
			return err
		}
		if err := a.register(http.MethodGet, "queue/pop", http.HandlerFunc(a.handlePop)); err != nil {
			return err
		}
	}
	if a.caps.stimulation && s.StimulateInputPayload {
		if _, err := gate.Stimulus(a.target); err != nil {
			return &ConfigError{Adapter: a.Name(), Err: err}
		}
		a.sched.Every("stimulate", s.StimulateFrequency(), a.stimulate)
	}
	return ctx.Err()
}

// RoutePath returns the lower-cased route for suffix on this adapter.
func (a *Adapter) RoutePath(suffix string) string {
	return strings.ToLower(fmt.Sprintf("/%s/adapter/%s/%s", a.graph, a.decl.Name, suffix))
}

func (a *Adapter) register(method, suffix string, h http.Handler) error {
	path := a.RoutePath(suffix)
	if err := a.rt.router.Register(method, path, h); err != nil {
		return &ConfigError{Adapter: a.Name(), Err: fmt.Errorf("registering %s %s: %w", method, path, err)}
	}
	a.routes = append(a.routes, route{method: method, path: path})
	return nil
}

// Routes lists the adapter's registered routes as "METHOD path".
func (a *Adapter) Routes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.routes))
	for _, r := range a.routes {
		out = append(out, r.method+" "+r.path)
	}
	return out
}

func (a *Adapter) unwire() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	for _, r := range a.routes {
		a.rt.router.Deregister(r.method, r.path)
	}
}

// Teardown stops the adapter's tasks and releases its routes and broker
// subscription. Work already in flight runs to completion. Calling Teardown
// more than once is a no-op.
func (a *Adapter) Teardown() {
	a.mu.Lock()
	if a.state == StateTornDown {
		a.mu.Unlock()
		return
	}
	prev := a.state
	a.state = StateTornDown
	a.mu.Unlock()

	a.unwire()
	if prev == StateActive {
		a.rt.metrics.adapterTornDown(a)
		if a.rt.listener != nil {
			a.rt.listener.AdapterTornDown(a)
		}
	}
	a.logger.Info("adapter torn down")
}

// Wait blocks until the adapter's task goroutines and any in-flight
// asynchronous dispatches have finished.
func (a *Adapter) Wait() {
	if a.sched != nil {
		a.sched.Wait()
	}
	a.inflight.Wait()
}

// OpenMessages is the number of asynchronous dispatches awaiting a response.
func (a *Adapter) OpenMessages() int64 {
	return a.open.Load()
}

// Status returns a snapshot for the management API.
func (a *Adapter) Status() model.AdapterStatus {
	st := model.AdapterStatus{
		ID:      a.ID(),
		Name:    a.Name(),
		Graph:   a.graph,
		Version: a.version,
		Type:    a.Type(),
		State:   a.State().String(),
		Routes:  a.Routes(),
		Tags:    a.tags,
	}
	if a.endpoint != nil {
		st.Endpoint = a.endpoint.String()
	}
	if a.caps.backPressure {
		bp := a.BackPressure()
		st.BackPressure = &bp
	}
	return st
}

// Ingest starts a new batch with payload: validate, stamp, record and
// forward. It is the entry point for push, external poll, broker and
// stimulation. pollStarted is set when the payload came from an external
// poll.
func (a *Adapter) Ingest(ctx context.Context, payload []byte, pollStarted *time.Time) (*model.FlowEvent, error) {
	if !json.Valid(payload) {
		return nil, &gate.ValidationError{Stage: "input", Problems: []string{"payload is not valid JSON"}}
	}
	id, err := idgen.FlowEvent()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	ev := a.newFlowEvent(id, idgen.Batch(), now)
	ev.Times.PollStarted = pollStarted

	if err := a.admit(ctx, ev, payload); err != nil {
		return nil, err
	}
	if _, err := a.rt.store.CreateFlowEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("recording flow event: %w", err)
	}
	a.rt.metrics.eventStarted(a)
	if err := a.rt.dispatcher.Forward(ctx, a, ev, payload, nil); err != nil {
		return ev, err
	}
	return ev, nil
}

func (a *Adapter) newFlowEvent(id, batchID string, start time.Time) *model.FlowEvent {
	return &model.FlowEvent{
		ID:          id,
		BatchID:     batchID,
		GraphName:   a.graph,
		AdapterID:   a.ID(),
		AdapterName: a.Name(),
		Times:       model.FlowEventTimes{EventStart: &start},
	}
}

// admit runs input validation and stamping. A rejected payload is recorded
// on ev with code 422 and is never forwarded.
func (a *Adapter) admit(ctx context.Context, ev *model.FlowEvent, payload []byte) error {
	err := a.rt.gate.ValidateInput(payload, a.target)
	if err == nil {
		err = a.rt.gate.StampInputs(ev, payload, a.target)
	}
	if a.decl.Settings.PersistInputPayload {
		ev.InputPayload = json.RawMessage(payload)
	}
	if err != nil {
		a.reject(ctx, ev, err)
		return err
	}
	return nil
}

func (a *Adapter) reject(ctx context.Context, ev *model.FlowEvent, reason error) {
	ev.HTTPResponseCode = http.StatusUnprocessableEntity
	if created, err := a.rt.store.CreateFlowEvent(ctx, ev); err != nil {
		a.logger.Error("failed to record rejected flow event", "flow_event", ev.ID, "err", err)
	} else if !created {
		if err := a.rt.store.UpdateFlowEvent(ctx, ev); err != nil {
			a.logger.Error("failed to record rejected flow event", "flow_event", ev.ID, "err", err)
		}
	}
	a.logger.Warn("payload rejected", "flow_event", ev.ID, "batch", ev.BatchID, "err", reason)
	a.rt.metrics.eventFinished(a, outcomeRejected)
	a.rt.publish(ctx, events.TopicFlowEventRejected, events.FlowEventRejected{FlowEvent: ev, Reason: reason.Error()})
}

// asyncEgress reports whether dispatches run in the background.
func (a *Adapter) asyncEgress() bool {
	return a.decl.Egress.Type == model.EgressAsync
}

// saturated reports whether every asynchronous dispatch slot is taken.
func (a *Adapter) saturated() bool {
	return a.asyncEgress() && a.open.Load() >= int64(a.decl.Egress.Concurrency)
}
