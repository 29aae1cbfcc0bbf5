// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package databag provides an insertion-order-preserving parameter
// container used to carry client, request, and token metadata between
// pipeline stages without a rigid schema.
//
// Values are restricted to JSON-shaped data: string, int64, float64, bool,
// nil, []any, and map[string]any. Keys are unique; Get on an absent key is
// an error; All returns a snapshot, never a live view. Serialization is
// deterministic: keys marshal in insertion order.
package databag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Bag is an ordered string-keyed parameter map. The zero value is not
// usable; construct with New.
type Bag struct {
	keys   []string
	values map[string]any
}

// New creates an empty Bag.
func New() *Bag {
	return &Bag{values: make(map[string]any)}
}

// FromMap creates a Bag with the given entries inserted in sorted key
// order, giving callers a deterministic starting point when the source is
// an unordered map.
func FromMap(m map[string]any) *Bag {
	b := New()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		b.Set(k, m[k])
	}
	return b
}

// Has reports whether the key is present.
func (b *Bag) Has(key string) bool {
	_, ok := b.values[key]
	return ok
}

// Get returns the value for key, or an error if the key is absent.
func (b *Bag) Get(key string) (any, error) {
	v, ok := b.values[key]
	if !ok {
		return nil, fmt.Errorf("databag: key %q not found", key)
	}
	return v, nil
}

// GetString returns the value for key as a string. Absent keys and
// non-string values are errors.
func (b *Bag) GetString(key string) (string, error) {
	v, err := b.Get(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("databag: key %q holds %T, not string", key, v)
	}
	return s, nil
}

// GetStringDefault returns the string value for key, or def when the key
// is absent or holds a non-string.
func (b *Bag) GetStringDefault(key, def string) string {
	s, err := b.GetString(key)
	if err != nil {
		return def
	}
	return s
}

// GetInt64 returns the value for key as an int64. JSON-decoded float64
// values are accepted when they are integral.
func (b *Bag) GetInt64(key string) (int64, error) {
	v, err := b.Get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}
	case json.Number:
		return n.Int64()
	}
	return 0, fmt.Errorf("databag: key %q holds %T, not an integer", key, v)
}

// GetStrings returns the value for key as a string slice. A bare string is
// returned as a one-element slice, matching how registration metadata is
// commonly submitted.
func (b *Bag) GetStrings(key string) ([]string, error) {
	v, err := b.Get(key)
	if err != nil {
		return nil, err
	}
	switch s := v.(type) {
	case []string:
		return slices.Clone(s), nil
	case string:
		return []string{s}, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("databag: key %q holds a non-string element %T", key, e)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("databag: key %q holds %T, not a string list", key, v)
}

// Set inserts or replaces the value for key in place. A new key is
// appended to the iteration order; replacing an existing key keeps its
// original position.
func (b *Bag) Set(key string, value any) {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
}

// Delete removes the key, preserving the relative order of the rest.
func (b *Bag) Delete(key string) {
	if _, ok := b.values[key]; !ok {
		return
	}
	delete(b.values, key)
	b.keys = slices.DeleteFunc(b.keys, func(k string) bool { return k == key })
}

// With returns a copy of the bag with the value set, leaving the receiver
// untouched. Used by copy-on-write pipeline stages.
func (b *Bag) With(key string, value any) *Bag {
	c := b.Clone()
	c.Set(key, value)
	return c
}

// Keys returns the keys in insertion order as a snapshot.
func (b *Bag) Keys() []string {
	return slices.Clone(b.keys)
}

// Len returns the number of entries.
func (b *Bag) Len() int {
	return len(b.keys)
}

// All returns a snapshot map of the entries. Mutating the result does not
// affect the bag.
func (b *Bag) All() map[string]any {
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of the bag with independent key ordering.
func (b *Bag) Clone() *Bag {
	c := &Bag{
		keys:   slices.Clone(b.keys),
		values: make(map[string]any, len(b.values)),
	}
	for k, v := range b.values {
		c.values[k] = v
	}
	return c
}

// MarshalJSON renders the bag as a JSON object with keys in insertion
// order.
func (b *Bag) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range b.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(b.values[k])
		if err != nil {
			return nil, fmt.Errorf("databag: marshal key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving the document's key
// order.
func (b *Bag) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("databag: expected JSON object, got %v", tok)
	}
	b.keys = nil
	b.values = make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("databag: decode key %q: %w", key, err)
		}
		b.Set(key, value)
	}
	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
