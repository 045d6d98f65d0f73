// Package codec converts typed values to and from the map based documents
// exchanged with storage drivers.
package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ToDocument encodes v through its JSON representation into a document.
// A nil value yields an empty document.
func ToDocument(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	if m, ok := v.(map[string]any); ok {
		return Clone(m), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	if bytes.Equal(data, []byte("null")) {
		return map[string]any{}, nil
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode %T as a document: %w", v, err)
	}
	return doc, nil
}

// FromDocument decodes a document into a new T.
func FromDocument[T any](doc map[string]any) (*T, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to decode document into %T: %w", *out, err)
	}
	return out, nil
}

// Convert re-encodes v as a Dst through JSON.
func Convert[Dst any](v any) (*Dst, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	out := new(Dst)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to decode into %T: %w", *out, err)
	}
	return out, nil
}

// Flatten turns nested maps into dotted paths so that a write only touches
// the leaves present in m. Empty nested maps are kept as values.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// SetPath assigns v at a dotted path inside doc, creating intermediate maps.
func SetPath(doc map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// Merge applies src onto dst. Nested maps are merged recursively, every other
// value replaces the existing one.
func Merge(dst, src map[string]any) {
	for path, v := range Flatten(src) {
		SetPath(dst, path, v)
	}
}

// Clone deep copies nested maps and slices of a document.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
