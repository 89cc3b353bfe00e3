// Package tags implements the coda entity model: metadata containers, files
// and collections of files.
package tags

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/common/jsonutil"
)

// PathKey is the store document field that carries a file's identity. It can
// never be used as a metadata key.
const PathKey = "path"

// Metadata is an insertion-ordered key/value container of JSON-serializable
// values.
type Metadata struct {
	keys   []string
	values map[string]any
}

// NewMetadata returns an empty container.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]any)}
}

// MetadataFrom builds a container from a plain map. Map iteration order is
// random, so keys are inserted in sorted order.
func MetadataFrom(m map[string]any) (*Metadata, error) {
	md := NewMetadata()
	for _, k := range sortedKeys(m) {
		if err := md.Set(k, m[k]); err != nil {
			return nil, err
		}
	}
	return md, nil
}

// Len returns the number of keys.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.keys)
}

// Lookup returns the value for key and whether it exists.
func (m *Metadata) Lookup(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Get returns the value for key or ErrKeyNotFound.
func (m *Metadata) Get(key string) (any, error) {
	v, ok := m.Lookup(key)
	if !ok {
		return nil, errors.E("Metadata.Get", errors.ErrKeyNotFound, nil, key)
	}
	return v, nil
}

// Set assigns key. The value must be JSON-serializable.
func (m *Metadata) Set(key string, value any) error {
	if key == "" {
		return errors.E("Metadata.Set", errors.ErrValidation, nil, "empty key")
	}
	if key == PathKey {
		return errors.E("Metadata.Set", errors.ErrValidation, nil, "\"path\" is reserved")
	}
	if _, err := json.Marshal(value); err != nil {
		return errors.E("Metadata.Set", errors.ErrInvalidMetadata, err, key)
	}
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return nil
}

// Delete removes key and reports whether it was present.
func (m *Metadata) Delete(key string) bool {
	if _, ok := m.values[key]; !ok {
		return false
	}
	delete(m.values, key)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == key })
	return true
}

// Clone returns an independent copy. Nested values are shared.
func (m *Metadata) Clone() *Metadata {
	out := NewMetadata()
	if m == nil {
		return out
	}
	out.keys = slices.Clone(m.keys)
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// Map returns the contents as a plain map.
func (m *Metadata) Map() map[string]any {
	out := make(map[string]any, m.Len())
	if m == nil {
		return out
	}
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Merge returns the union of m and other. Values from other win on conflict;
// keys keep their first-seen position.
func (m *Metadata) Merge(other *Metadata) *Metadata {
	out := m.Clone()
	if other == nil {
		return out
	}
	for _, k := range other.keys {
		if _, exists := out.values[k]; !exists {
			out.keys = append(out.keys, k)
		}
		out.values[k] = other.values[k]
	}
	return out
}

// Intersect returns the pairs present in both containers with structurally
// equal values, in m's order.
func (m *Metadata) Intersect(other *Metadata) *Metadata {
	out := NewMetadata()
	if m == nil || other == nil {
		return out
	}
	for _, k := range m.keys {
		ov, ok := other.values[k]
		if !ok || !ValuesEqual(m.values[k], ov) {
			continue
		}
		out.keys = append(out.keys, k)
		out.values[k] = m.values[k]
	}
	return out
}

// Equal reports structural equality, ignoring key order.
func (m *Metadata) Equal(other *Metadata) bool {
	if m.Len() != other.Len() {
		return false
	}
	for _, k := range m.Keys() {
		ov, ok := other.Lookup(k)
		if !ok || !ValuesEqual(m.values[k], ov) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the container as an object in insertion order.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the document's key order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = Metadata{values: make(map[string]any)}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metadata: expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("metadata: expected object key, got %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if err := m.Set(key, jsonutil.Normalize(value)); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// String returns the JSON encoding.
func (m *Metadata) String() string {
	b, err := m.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ValuesEqual compares two JSON-serializable values structurally. Numbers
// compare by exact value, so 1 and 1.0 are equal while distinct integers
// beyond float64 precision are not. Map key order is irrelevant.
func ValuesEqual(a, b any) bool {
	return jsonutil.Equal(a, b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
