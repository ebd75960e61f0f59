package schema

import "strings"

// Document is a migration payload. Top-level keys name record kinds
// ("user", "field", "transportOrder"); their values are the subdocuments of
// those kinds. Values are JSON-compatible Go types.
type Document map[string]any

// Clone returns a deep copy of the document. Nested maps and slices are
// copied; scalar values are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// Lookup resolves a dot-separated path ("user.profile.displayName") and
// returns the value found there.
func (d Document) Lookup(path string) (any, bool) {
	var current any = map[string]any(d)
	for _, key := range strings.Split(path, ".") {
		if key == "" {
			continue
		}
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		v, ok := m[key]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

// Kinds returns the top-level keys present in the document.
func (d Document) Kinds() []string {
	kinds := make([]string, 0, len(d))
	for k := range d {
		kinds = append(kinds, k)
	}
	return kinds
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Document:
		return t, true
	default:
		return nil, false
	}
}
