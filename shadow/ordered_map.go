package shadow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/tidwall/gjson"
)

// OrderedMap is a string-keyed map that remembers insertion order. Values
// are the generic JSON forms (nil, bool, float64, string, []any,
// map[string]any).
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap returns an empty map.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]any)}
}

// OrderedMapFromJSON parses a JSON object, preserving key order.
func OrderedMapFromJSON(data []byte) (*OrderedMap, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrBadDocument)
	}
	return orderedMapFromResult(gjson.ParseBytes(data))
}

func orderedMapFromResult(r gjson.Result) (*OrderedMap, error) {
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrBadDocument, r.Type)
	}
	m := NewOrderedMap()
	r.ForEach(func(key, value gjson.Result) bool {
		m.Set(key.String(), value.Value())
		return true
	})
	return m, nil
}

// Set stores value under key and reports whether the stored value changed.
// An existing key keeps its position.
func (m *OrderedMap) Set(key string, value any) bool {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	old, exists := m.values[key]
	if exists && reflect.DeepEqual(old, value) {
		return false
	}
	if !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return true
}

// Get returns the value stored under key.
func (m *OrderedMap) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// GetString returns the value under key if it is a string.
func (m *OrderedMap) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Delete removes key and reports whether it was present.
func (m *OrderedMap) Delete(key string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.values[key]; !ok {
		return false
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Range calls f for each entry in order until f returns false.
func (m *OrderedMap) Range(f func(key string, value any) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !f(k, m.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy.
func (m *OrderedMap) Clone() *OrderedMap {
	out := NewOrderedMap()
	m.Range(func(k string, v any) bool {
		out.keys = append(out.keys, k)
		out.values[k] = cloneValue(v)
		return true
	})
	return out
}

// Equal reports whether both maps hold the same keys, order and values.
func (m *OrderedMap) Equal(o *OrderedMap) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i, k := range m.Keys() {
		if o.keys[i] != k || !reflect.DeepEqual(m.values[k], o.values[k]) {
			return false
		}
	}
	return true
}

// ToMap returns an unordered deep copy.
func (m *OrderedMap) ToMap() map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(k string, v any) bool {
		out[k] = cloneValue(v)
		return true
	})
	return out
}

// MarshalJSON encodes the map as an object in insertion order.
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	var err error
	i := 0
	m.Range(func(k string, v any) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		var kb, vb []byte
		if kb, err = json.Marshal(k); err != nil {
			return false
		}
		if vb, err = json.Marshal(v); err != nil {
			return false
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON replaces the contents with the decoded object.
func (m *OrderedMap) UnmarshalJSON(data []byte) error {
	parsed, err := OrderedMapFromJSON(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}
