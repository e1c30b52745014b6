package gate

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// maxStimulusDepth bounds recursion through nested and self-referencing
// definitions.
const maxStimulusDepth = 8

// Stimulus synthesizes a payload conforming to the adapter's first input
// sub-schema.
func Stimulus(t Target) (json.RawMessage, error) {
	if len(t.InputSubSchemas) == 0 {
		return nil, fmt.Errorf("adapter %s declares no input sub-schema to stimulate", t.AdapterName)
	}
	var doc struct {
		Definitions map[string]any `json:"definitions"`
	}
	if err := json.Unmarshal(t.Schema, &doc); err != nil {
		return nil, fmt.Errorf("decoding graph schema: %w", err)
	}
	name := t.InputSubSchemas[0]
	root, ok := doc.Definitions[name]
	if !ok {
		return nil, fmt.Errorf("schema definition %q not found", name)
	}
	g := generator{defs: doc.Definitions}
	return json.Marshal(g.value(root, 0))
}

type generator struct {
	defs map[string]any
}

func (g generator) value(node any, depth int) any {
	s, ok := node.(map[string]any)
	if !ok || depth > maxStimulusDepth {
		return nil
	}
	if ref, ok := s["$ref"].(string); ok {
		return g.value(g.defs[strings.TrimPrefix(ref, "#/definitions/")], depth+1)
	}
	if c, ok := s["const"]; ok {
		return c
	}
	if enum, ok := s["enum"].([]any); ok && len(enum) > 0 {
		return enum[rand.IntN(len(enum))]
	}
	for _, key := range []string{"oneOf", "anyOf"} {
		if alts, ok := s[key].([]any); ok && len(alts) > 0 {
			return g.value(alts[0], depth+1)
		}
	}
	if all, ok := s["allOf"].([]any); ok {
		merged := map[string]any{}
		for _, part := range all {
			if obj, ok := g.value(part, depth+1).(map[string]any); ok {
				for k, v := range obj {
					merged[k] = v
				}
			}
		}
		return merged
	}

	switch schemaType(s) {
	case "object":
		out := map[string]any{}
		props, _ := s["properties"].(map[string]any)
		for k, p := range props {
			out[k] = g.value(p, depth+1)
		}
		return out
	case "array":
		n := 1
		if minItems, ok := number(s["minItems"]); ok && int(minItems) > n {
			n = int(minItems)
		}
		items := make([]any, 0, n)
		for i := 0; i < n; i++ {
			items = append(items, g.value(s["items"], depth+1))
		}
		return items
	case "integer":
		lo, hi := bounds(s, 0, 100)
		return int64(lo) + rand.Int64N(int64(hi-lo)+1)
	case "number":
		lo, hi := bounds(s, 0, 100)
		return lo + rand.Float64()*(hi-lo)
	case "boolean":
		return rand.IntN(2) == 1
	case "null":
		return nil
	default:
		return stimulusString(s)
	}
}

func schemaType(s map[string]any) string {
	switch t := s["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if name, ok := v.(string); ok && name != "null" {
				return name
			}
		}
	}
	if _, ok := s["properties"]; ok {
		return "object"
	}
	return "string"
}

func stimulusString(s map[string]any) string {
	switch s["format"] {
	case "date-time":
		return time.Now().UTC().Format(time.RFC3339)
	case "date":
		return time.Now().UTC().Format(time.DateOnly)
	case "email":
		return "stimulus@example.com"
	case "uri":
		return "https://example.com/stimulus"
	}
	v := fmt.Sprintf("stimulus-%06d", rand.IntN(1_000_000))
	if minLen, ok := number(s["minLength"]); ok {
		for len(v) < int(minLen) {
			v += "x"
		}
	}
	if maxLen, ok := number(s["maxLength"]); ok && len(v) > int(maxLen) {
		v = v[:int(maxLen)]
	}
	return v
}

func bounds(s map[string]any, lo, hi float64) (float64, float64) {
	if v, ok := number(s["minimum"]); ok {
		lo = v
		if hi < lo {
			hi = lo + 100
		}
	}
	if v, ok := number(s["maximum"]); ok {
		hi = v
		if lo > hi {
			lo = hi
		}
	}
	return lo, hi
}

func number(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
