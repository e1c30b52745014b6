package gate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/flowd/internal/model"
)

// Stamps extracts one stamp per value found at each dotted keychain. A
// keychain that passes through an array yields one stamp per element.
func Stamps(payload []byte, keychains []string) ([]model.Stamp, error) {
	if len(keychains) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("stamping: payload is not valid JSON: %w", err)
	}

	var out []model.Stamp
	for _, chain := range keychains {
		values, err := extract(doc, strings.Split(chain, "."), chain)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			out = append(out, model.Stamp{Key: chain, Value: v})
		}
	}
	return out, nil
}

func extract(node any, keys []string, chain string) ([]string, error) {
	if arr, ok := node.([]any); ok {
		var out []string
		for _, el := range arr {
			vals, err := extract(el, keys, chain)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil
	}
	if len(keys) == 0 {
		return []string{scalar(node)}, nil
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stamping %q: %q is not an object", chain, keys[0])
	}
	child, ok := obj[keys[0]]
	if !ok {
		return nil, fmt.Errorf("stamping %q: field %q not found", chain, keys[0])
	}
	return extract(child, keys[1:], chain)
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return "null"
	default:
		data, _ := json.Marshal(x)
		return string(data)
	}
}
