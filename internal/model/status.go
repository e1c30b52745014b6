package model

// AdapterStatus is a point-in-time view of one live runtime adapter.
type AdapterStatus struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Graph        string            `json:"graph"`
	Version      string            `json:"version"`
	Type         AdapterType       `json:"type"`
	State        string            `json:"state"`
	Endpoint     string            `json:"endpoint,omitempty"`
	Routes       []string          `json:"routes,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	BackPressure *BackPressure     `json:"back_pressure,omitempty"`
}
