package model

import (
	"encoding/json"
	"time"
)

// Edge connects one adapter to one or more downstream adapters, by name.
type Edge struct {
	Left  string   `json:"left"`
	Right []string `json:"right"`
}

// Graph is a registered, versioned pipeline definition.
type Graph struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Adapters    []*AdapterDecl  `json:"adapters"`
	Edges       []Edge          `json:"edges,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Adapter returns the declaration with the given name, or nil.
func (g *Graph) Adapter(name string) *AdapterDecl {
	for _, a := range g.Adapters {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// AdapterByID returns the declaration with the given id, or nil.
func (g *Graph) AdapterByID(id string) *AdapterDecl {
	for _, a := range g.Adapters {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Link assigns each adapter an id from newID (keeping ids already set) and
// rebuilds every adapter's Upstream and Downstream id lists from the edges.
// The graph must already have passed ValidateGraph.
func Link(g *Graph, newID func() (string, error)) error {
	byName := make(map[string]*AdapterDecl, len(g.Adapters))
	for _, a := range g.Adapters {
		if a.ID == "" {
			id, err := newID()
			if err != nil {
				return err
			}
			a.ID = id
		}
		a.Upstream = nil
		a.Downstream = nil
		byName[a.Name] = a
	}
	for _, e := range g.Edges {
		left := byName[e.Left]
		for _, r := range e.Right {
			right := byName[r]
			if !contains(left.Downstream, right.ID) {
				left.Downstream = append(left.Downstream, right.ID)
			}
			if !contains(right.Upstream, left.ID) {
				right.Upstream = append(right.Upstream, left.ID)
			}
		}
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}

// GraphDeployment names a registered graph and the deploy-time overrides to
// apply to its adapters.
type GraphDeployment struct {
	GraphName string                      `json:"graph_name"`
	Version   string                      `json:"version"`
	Overrides map[string]SettingsOverride `json:"overrides,omitempty"`
	Tags      map[string]string           `json:"tags,omitempty"`
}

// GraphSummary is the list view of a registered graph.
type GraphSummary struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Adapters  int       `json:"adapters"`
	CreatedAt time.Time `json:"created_at"`
}
