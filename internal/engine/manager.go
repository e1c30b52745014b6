package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/flowd/internal/events"
	"github.com/alfredjeanlab/flowd/internal/model"
)

// GraphSource loads registered graphs.
type GraphSource interface {
	GetGraph(ctx context.Context, name, version string) (*model.Graph, error)
}

// Forgetter drops per-adapter caches when an adapter goes away.
type Forgetter interface {
	Forget(adapterID string)
}

// DeployResult reports what a deployment did with each adapter.
type DeployResult struct {
	Graph    string            `json:"graph"`
	Version  string            `json:"version"`
	Deployed []string          `json:"deployed"`
	Skipped  []string          `json:"skipped,omitempty"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// Manager deploys and tears down graphs. Deploy and teardown calls are
// serialized; adapters run concurrently once live.
type Manager struct {
	rt       *Runtime
	graphs   GraphSource
	registry *Registry
	logger   *slog.Logger

	mu sync.Mutex
}

func NewManager(rt *Runtime, graphs GraphSource) *Manager {
	return &Manager{
		rt:       rt,
		graphs:   graphs,
		registry: NewRegistry(),
		logger:   rt.logger,
	}
}

// Deploy instantiates and initializes every adapter of the requested graph
// version. Adapters already live are skipped. A failing adapter does not
// stop the others; its error is reported in the result.
func (m *Manager) Deploy(ctx context.Context, dep model.GraphDeployment) (*DeployResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.graphs.GetGraph(ctx, dep.GraphName, dep.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s@%s", ErrGraphNotFound, dep.GraphName, dep.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("loading graph %s@%s: %w", dep.GraphName, dep.Version, err)
	}
	if live, ok := m.registry.Version(g.Name); ok && live != g.Version {
		return nil, fmt.Errorf("%w: %s is live at %s", ErrVersionConflict, g.Name, live)
	}
	for name := range dep.Overrides {
		if g.Adapter(name) == nil {
			return nil, fmt.Errorf("override names unknown adapter %q", name)
		}
	}

	res := &DeployResult{Graph: g.Name, Version: g.Version, Deployed: []string{}}
	for _, decl := range g.Adapters {
		if m.registry.Get(g.Name, decl.ID) != nil {
			m.logger.Warn("adapter already deployed, skipping", "graph", g.Name, "adapter", decl.Name)
			res.Skipped = append(res.Skipped, decl.Name)
			continue
		}
		resolved := *decl
		if ov, ok := dep.Overrides[decl.Name]; ok {
			resolved = ov.Apply(resolved)
		}
		a, err := newAdapter(m.rt, g, resolved, dep.Tags)
		if err == nil {
			err = a.Initialize(ctx)
		}
		if err != nil {
			m.logger.Error("adapter failed to deploy", "graph", g.Name, "adapter", decl.Name, "err", err)
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[decl.Name] = err.Error()
			continue
		}
		m.registry.Add(a)
		res.Deployed = append(res.Deployed, a.Name())
		m.rt.publish(ctx, events.TopicAdapterActivated, lifecycleEvent(a))
	}

	m.logger.Info("graph deployed", "graph", g.Name, "version", g.Version,
		"deployed", len(res.Deployed), "skipped", len(res.Skipped), "failed", len(res.Failed))
	m.rt.publish(ctx, events.TopicGraphDeployed, events.GraphDeployed{Name: g.Name, Version: g.Version, Adapters: res.Deployed})
	return res, nil
}

// Teardown stops every live adapter of the graph. An empty version matches
// whatever version is live.
func (m *Manager) Teardown(ctx context.Context, graph, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardown(ctx, graph, version)
}

func (m *Manager) teardown(ctx context.Context, graph, version string) error {
	live, ok := m.registry.Version(graph)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDeployed, graph)
	}
	if version != "" && version != live {
		return fmt.Errorf("%w: %s is live at %s", ErrVersionConflict, graph, live)
	}
	adapters := m.registry.Remove(graph)
	for _, a := range adapters {
		a.Teardown()
		if f, ok := m.rt.gate.(Forgetter); ok {
			f.Forget(a.ID())
		}
		m.rt.publish(ctx, events.TopicAdapterTornDown, lifecycleEvent(a))
	}
	m.logger.Info("graph torn down", "graph", graph, "version", live, "adapters", len(adapters))
	m.rt.publish(ctx, events.TopicGraphTornDown, events.GraphTornDown{Name: graph, Version: live})
	return nil
}

// TeardownAll tears down every live graph and waits, until ctx is done, for
// in-flight work to finish.
func (m *Manager) TeardownAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*Adapter
	for _, name := range m.registry.Graphs() {
		all = append(all, m.registry.List(name)...)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range m.registry.Graphs() {
		g.Go(func() error {
			err := m.teardown(gctx, name, "")
			if errors.Is(err, ErrNotDeployed) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		for _, a := range all {
			a.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight work: %w", ctx.Err())
	}
}

// Adapters returns the status of graph's live adapters.
func (m *Manager) Adapters(graph string) []model.AdapterStatus {
	list := m.registry.List(graph)
	out := make([]model.AdapterStatus, 0, len(list))
	for _, a := range list {
		out = append(out, a.Status())
	}
	return out
}

// Adapter returns the live adapter called name in graph, or nil.
func (m *Manager) Adapter(graph, name string) *Adapter {
	return m.registry.Find(graph, name)
}

// LiveGraphs returns the names of graphs with live adapters.
func (m *Manager) LiveGraphs() []string {
	return m.registry.Graphs()
}

// LiveVersion returns the deployed version of graph.
func (m *Manager) LiveVersion(graph string) (string, bool) {
	return m.registry.Version(graph)
}

func lifecycleEvent(a *Adapter) events.AdapterLifecycle {
	return events.AdapterLifecycle{Graph: a.graph, Version: a.version, ID: a.ID(), Name: a.Name(), Type: a.Type()}
}
