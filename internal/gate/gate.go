// Package gate validates payloads against a graph's JSON schema and extracts
// stamps from them.
package gate

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/alfredjeanlab/flowd/internal/model"
)

// Target carries everything the gate needs to know about one adapter.
type Target struct {
	AdapterID            string
	AdapterName          string
	Schema               json.RawMessage
	InputSubSchemas      []string
	OutputSubSchema      string
	ValidateInput        bool
	ValidateOutput       bool
	InputStampKeychains  []string
	OutputStampKeychains []string
}

// NewTarget builds a Target from a resolved adapter declaration.
func NewTarget(schema json.RawMessage, d *model.AdapterDecl) Target {
	return Target{
		AdapterID:            d.ID,
		AdapterName:          d.Name,
		Schema:               schema,
		InputSubSchemas:      d.InputSubSchemas,
		OutputSubSchema:      d.OutputSubSchema,
		ValidateInput:        d.Settings.ValidateInputPayload,
		ValidateOutput:       d.Settings.ValidateOutputPayload,
		InputStampKeychains:  d.Settings.InputStampKeychains,
		OutputStampKeychains: d.Settings.OutputStampKeychains,
	}
}

// Gate is the payload check every hop passes through.
type Gate interface {
	ValidateInput(payload []byte, t Target) error
	ValidateOutput(payload []byte, t Target) error
	StampInputs(ev *model.FlowEvent, payload []byte, t Target) error
	StampOutputs(ev *model.FlowEvent, payload []byte, t Target) error
}

// ValidationError reports why a payload was rejected.
type ValidationError struct {
	Stage    string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s payload rejected: %s", e.Stage, strings.Join(e.Problems, "; "))
}

// SchemaGate implements Gate with gojsonschema. Compiled sub-schemas are
// cached per adapter.
type SchemaGate struct {
	mu    sync.Mutex
	cache map[string]*gojsonschema.Schema
}

var _ Gate = (*SchemaGate)(nil)

func New() *SchemaGate {
	return &SchemaGate{cache: make(map[string]*gojsonschema.Schema)}
}

// ValidateInput accepts the payload if it matches any of the adapter's input
// sub-schemas. It is a no-op unless input validation is enabled.
func (g *SchemaGate) ValidateInput(payload []byte, t Target) error {
	if !t.ValidateInput || len(t.InputSubSchemas) == 0 {
		return nil
	}
	var problems []string
	for _, name := range t.InputSubSchemas {
		errs, err := g.validate(payload, t, name)
		if err != nil {
			return err
		}
		if len(errs) == 0 {
			return nil
		}
		problems = append(problems, errs...)
	}
	return &ValidationError{Stage: "input", Problems: problems}
}

// ValidateOutput checks the payload against the adapter's output
// sub-schema. It is a no-op unless output validation is enabled.
func (g *SchemaGate) ValidateOutput(payload []byte, t Target) error {
	if !t.ValidateOutput || t.OutputSubSchema == "" {
		return nil
	}
	errs, err := g.validate(payload, t, t.OutputSubSchema)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return &ValidationError{Stage: "output", Problems: errs}
	}
	return nil
}

func (g *SchemaGate) StampInputs(ev *model.FlowEvent, payload []byte, t Target) error {
	stamps, err := Stamps(payload, t.InputStampKeychains)
	if err != nil {
		return &ValidationError{Stage: "input", Problems: []string{err.Error()}}
	}
	ev.InputStamps = stamps
	return nil
}

func (g *SchemaGate) StampOutputs(ev *model.FlowEvent, payload []byte, t Target) error {
	stamps, err := Stamps(payload, t.OutputStampKeychains)
	if err != nil {
		return &ValidationError{Stage: "output", Problems: []string{err.Error()}}
	}
	ev.OutputStamps = stamps
	return nil
}

// validate returns the schema violations of payload against one named
// definition. The error return is reserved for an unusable schema.
func (g *SchemaGate) validate(payload []byte, t Target, name string) ([]string, error) {
	schema, err := g.compile(t, name)
	if err != nil {
		return nil, err
	}
	if !json.Valid(payload) {
		return []string{"payload is not valid JSON"}, nil
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return []string{err.Error()}, nil
	}
	if result.Valid() {
		return nil, nil
	}
	out := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		out = append(out, fmt.Sprintf("%s: %s: %s", name, desc.Field(), desc.Description()))
	}
	return out, nil
}

func (g *SchemaGate) compile(t Target, name string) (*gojsonschema.Schema, error) {
	key := t.AdapterID + "/" + name
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.cache[key]; ok {
		return s, nil
	}
	doc, err := subSchema(t.Schema, name)
	if err != nil {
		return nil, err
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compiling schema %q for adapter %s: %w", name, t.AdapterName, err)
	}
	g.cache[key] = s
	return s, nil
}

// Forget drops the cached schemas of one adapter.
func (g *SchemaGate) Forget(adapterID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.cache {
		if strings.HasPrefix(k, adapterID+"/") {
			delete(g.cache, k)
		}
	}
}

// subSchema builds a schema document whose root references one definition
// of the graph schema.
func subSchema(schema json.RawMessage, name string) (map[string]any, error) {
	var doc struct {
		Definitions map[string]any `json:"definitions"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("decoding graph schema: %w", err)
	}
	if _, ok := doc.Definitions[name]; !ok {
		return nil, fmt.Errorf("schema definition %q not found", name)
	}
	return map[string]any{
		"definitions": doc.Definitions,
		"$ref":        "#/definitions/" + name,
	}, nil
}
