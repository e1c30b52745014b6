package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var (
	namePattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	semverPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)
)

// ValidateGraph checks a graph definition before registration.
// It returns a *ValidationError if any rules fail, or nil if the graph is valid.
func ValidateGraph(g *Graph) error {
	var ve ValidationError

	if !namePattern.MatchString(g.Name) {
		ve.add("name", "must match %s", namePattern)
	}
	if !semverPattern.MatchString(g.Version) {
		ve.add("version", "must be a semantic version, got %q", g.Version)
	}
	if len(g.Adapters) == 0 {
		ve.add("adapters", "at least one adapter is required")
	}

	var definitions map[string]json.RawMessage
	if len(g.Schema) > 0 {
		var doc struct {
			Definitions map[string]json.RawMessage `json:"definitions"`
		}
		if err := json.Unmarshal(g.Schema, &doc); err != nil {
			ve.add("schema", "must be a JSON object: %v", err)
		}
		definitions = doc.Definitions
	}

	byName := make(map[string]*AdapterDecl, len(g.Adapters))
	for i, a := range g.Adapters {
		field := fmt.Sprintf("adapters[%d]", i)
		if !namePattern.MatchString(a.Name) {
			ve.add(field+".name", "must match %s", namePattern)
		} else if _, dup := byName[strings.ToLower(a.Name)]; dup {
			ve.add(field+".name", "duplicate adapter name %q", a.Name)
		}
		byName[strings.ToLower(a.Name)] = a
		validateAdapter(&ve, field, a, definitions)
	}

	upstreamCount := make(map[string]int)
	for i, e := range g.Edges {
		field := fmt.Sprintf("edges[%d]", i)
		left := g.Adapter(e.Left)
		if left == nil {
			ve.add(field+".left", "unknown adapter %q", e.Left)
			continue
		}
		if left.Type.IsTerminal() {
			ve.add(field+".left", "%s adapter %q cannot have downstream adapters", left.Type, left.Name)
		}
		if len(e.Right) == 0 {
			ve.add(field+".right", "at least one downstream adapter is required")
		}
		for _, r := range e.Right {
			right := g.Adapter(r)
			switch {
			case right == nil:
				ve.add(field+".right", "unknown adapter %q", r)
			case right.Name == left.Name:
				ve.add(field+".right", "adapter %q cannot feed itself", r)
			case !right.Type.HasInbox():
				ve.add(field+".right", "%s adapter %q cannot receive from upstream", right.Type, r)
			default:
				upstreamCount[right.Name]++
			}
		}
	}
	for _, a := range g.Adapters {
		if a.Type == AdapterMerge && upstreamCount[a.Name] == 0 {
			ve.add("edges", "merge adapter %q has no upstream adapters", a.Name)
		}
	}
	if ve.HasErrors() {
		return &ve
	}

	if cycle := findCycle(g); cycle != nil {
		ve.add("edges", "cycle detected: %s", strings.Join(cycle, " -> "))
		return &ve
	}
	return nil
}

func validateAdapter(ve *ValidationError, field string, a *AdapterDecl, definitions map[string]json.RawMessage) {
	if !a.Type.IsValid() {
		ve.add(field+".type", "invalid value %q", a.Type)
		return
	}
	if a.Endpoint != "" {
		if _, err := ParseEndpoint(a.Endpoint); err != nil {
			ve.add(field+".endpoint", "%v", err)
		}
	}
	if a.Egress.Type != "" && !a.Egress.Type.IsValid() {
		ve.add(field+".egress.type", "invalid value %q", a.Egress.Type)
	}
	switch strings.ToUpper(a.Egress.Method) {
	case "", "POST", "PUT":
	default:
		ve.add(field+".egress.method", "must be POST or PUT, got %q", a.Egress.Method)
	}
	if a.Egress.Concurrency < 0 {
		ve.add(field+".egress.concurrency", "must not be negative")
	}
	if a.Settings.InboxPageSize < 0 {
		ve.add(field+".settings.inbox_page_size", "must not be negative")
	}
	switch a.Type {
	case AdapterPoll:
		if a.Poll == nil || a.Poll.Endpoint == "" {
			ve.add(field+".poll.endpoint", "is required for poll adapters")
		} else if _, err := ParseEndpoint(a.Poll.Endpoint); err != nil {
			ve.add(field+".poll.endpoint", "%v", err)
		}
	case AdapterSubscribe:
		if a.Broker == nil || strings.TrimSpace(a.Broker.Topic) == "" {
			ve.add(field+".broker.topic", "is required for subscribe adapters")
		}
	}
	if definitions == nil {
		if a.Settings.ValidateInputPayload || a.Settings.ValidateOutputPayload || a.Settings.StimulateInputPayload {
			ve.add(field+".settings", "payload validation and stimulation require a graph schema")
		}
		return
	}
	for _, name := range a.InputSubSchemas {
		if _, ok := definitions[name]; !ok {
			ve.add(field+".input_sub_schemas", "unknown schema definition %q", name)
		}
	}
	if a.OutputSubSchema != "" {
		if _, ok := definitions[a.OutputSubSchema]; !ok {
			ve.add(field+".output_sub_schema", "unknown schema definition %q", a.OutputSubSchema)
		}
	}
}

// ParseEndpoint parses an absolute http(s) URL.
func ParseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed endpoint %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", raw)
	}
	return u, nil
}

// findCycle returns the adapter names along a cycle, or nil if the edges
// form a DAG.
func findCycle(g *Graph) []string {
	next := make(map[string][]string)
	for _, e := range g.Edges {
		next[e.Left] = append(next[e.Left], e.Right...)
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var path []string
	var visit func(string) []string
	visit = func(n string) []string {
		state[n] = visiting
		path = append(path, n)
		for _, m := range next[n] {
			switch state[m] {
			case visiting:
				for i, p := range path {
					if p == m {
						return append(append([]string{}, path[i:]...), m)
					}
				}
			case unvisited:
				if c := visit(m); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		state[n] = done
		return nil
	}
	for _, a := range g.Adapters {
		if state[a.Name] == unvisited {
			if c := visit(a.Name); c != nil {
				return c
			}
		}
	}
	return nil
}
