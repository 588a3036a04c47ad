package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Document holds the domain fields of a record as decoded JSON values.
type Document map[string]any

// ToDocument converts a JSON-tagged struct (or map) into a Document.
func ToDocument(v any) (Document, error) {
	if d, ok := v.(Document); ok {
		return d.Clone(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	d := Document{}
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Decode fills dst (a pointer to a JSON-tagged struct) from the document.
func (d Document) Decode(dst any) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// Clone returns a deep copy; nested maps and slices are not shared.
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

// Merge returns a copy of d with every key of patch overwritten.
func (d Document) Merge(patch Document) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// String returns the value under key when it is a string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Matches reports whether every key of query is present in d with an equal value.
func (d Document) Matches(query Document) bool {
	for k, want := range query {
		got, ok := d[k]
		if !ok || !equalJSON(got, want) {
			return false
		}
	}
	return true
}

// Key renders the document as a stable, sorted key=value list. Used in
// error messages and cache keys.
func (d Document) Key() string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, d[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case Document:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

func equalJSON(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ab) == string(bb)
}
