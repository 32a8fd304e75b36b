// Package opt provides a present/absent wrapper for patch fields, so an
// omitted JSON key is distinguishable from one explicitly set to an empty
// value or null.
package opt

import (
	"bytes"
	"encoding/json"
)

// Value holds an optional T. The zero Value is absent.
type Value[T any] struct {
	Set bool
	V   T
}

// Some returns a present Value.
func Some[T any](v T) Value[T] {
	return Value[T]{Set: true, V: v}
}

// Get returns the value and whether it is present.
func (v Value[T]) Get() (T, bool) {
	return v.V, v.Set
}

// Or returns the value if present, else def.
func (v Value[T]) Or(def T) T {
	if v.Set {
		return v.V
	}
	return def
}

// UnmarshalJSON marks the value present. JSON null yields a present zero
// value.
func (v *Value[T]) UnmarshalJSON(b []byte) error {
	v.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		var zero T
		v.V = zero
		return nil
	}
	return json.Unmarshal(b, &v.V)
}

// MarshalJSON encodes the wrapped value; pair with the omitzero tag option
// to drop absent values.
func (v Value[T]) MarshalJSON() ([]byte, error) {
	if !v.Set {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

// IsZero reports absence, for the omitzero tag option.
func (v Value[T]) IsZero() bool { return !v.Set }
