// Package jsonutil holds JSON helpers shared by the artifact packages.
package jsonutil

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Object is a JSON object that remembers the order its keys were read in.
// Values stay raw until a caller asks for them, so opaque string-encoded
// payloads survive a load/save round trip.
type Object struct {
	m *orderedmap.OrderedMap[string, json.RawMessage]
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{m: orderedmap.New[string, json.RawMessage]()}
}

func (o *Object) init() {
	if o.m == nil {
		o.m = orderedmap.New[string, json.RawMessage]()
	}
}

// Keys returns the keys in document order.
func (o *Object) Keys() []string {
	if o.m == nil {
		return nil
	}
	keys := make([]string, 0, o.m.Len())
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (o *Object) Len() int {
	if o.m == nil {
		return 0
	}
	return o.m.Len()
}

func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Get returns the raw value stored under key.
func (o *Object) Get(key string) (json.RawMessage, bool) {
	if o.m == nil {
		return nil, false
	}
	return o.m.Get(key)
}

// Decode unmarshals the value under key into v.
func (o *Object) Decode(key string, v any) error {
	raw, ok := o.Get(key)
	if !ok {
		return fmt.Errorf("key %q not present", key)
	}
	return json.Unmarshal(raw, v)
}

// Set marshals v under key. A new key is appended; an existing key keeps its
// position.
func (o *Object) Set(key string, v any) error {
	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %q: %w", key, err)
		}
		raw = b
	}
	o.init()
	o.m.Set(key, append(json.RawMessage(nil), raw...))
	return nil
}

func (o *Object) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, json.RawMessage]()
	if err := m.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decode JSON object: %w", err)
	}
	o.m = m
	return nil
}

func (o *Object) MarshalJSON() ([]byte, error) {
	o.init()
	return o.m.MarshalJSON()
}
