package engine

import (
	"sort"
	"sync"
)

type liveGraph struct {
	version  string
	adapters map[string]*Adapter // by adapter id
}

// Registry indexes live adapters by graph name and adapter id.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]*liveGraph
}

func NewRegistry() *Registry {
	return &Registry{graphs: make(map[string]*liveGraph)}
}

// Add records a under its graph. The graph's live version is set by the
// first adapter added.
func (r *Registry) Add(a *Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.graphs[a.graph]
	if !ok {
		g = &liveGraph{version: a.version, adapters: make(map[string]*Adapter)}
		r.graphs[a.graph] = g
	}
	g.adapters[a.ID()] = a
}

// Get returns the live adapter with the given id, or nil.
func (r *Registry) Get(graph, id string) *Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.graphs[graph]; ok {
		return g.adapters[id]
	}
	return nil
}

// Find returns the live adapter with the given name, or nil.
func (r *Registry) Find(graph, name string) *Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.graphs[graph]; ok {
		for _, a := range g.adapters {
			if a.Name() == name {
				return a
			}
		}
	}
	return nil
}

// Version returns the live version of graph.
func (r *Registry) Version(graph string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[graph]
	if !ok {
		return "", false
	}
	return g.version, true
}

// List returns graph's live adapters ordered by name.
func (r *Registry) List(graph string) []*Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[graph]
	if !ok {
		return nil
	}
	return sortedAdapters(g.adapters)
}

// Remove drops graph and returns the adapters it held.
func (r *Registry) Remove(graph string) []*Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.graphs[graph]
	if !ok {
		return nil
	}
	delete(r.graphs, graph)
	return sortedAdapters(g.adapters)
}

// Graphs returns the names of graphs with live adapters, sorted.
func (r *Registry) Graphs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.graphs))
	for name := range r.graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedAdapters(m map[string]*Adapter) []*Adapter {
	out := make([]*Adapter, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
