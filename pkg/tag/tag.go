// Package tag implements a typed key-value compound used as the persistent
// container for records. Values are int32, int64, string, string lists,
// nested compounds and compound lists, addressed by field name.
package tag

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMissingField is returned when a key is absent.
	ErrMissingField = errors.New("tag: missing field")
	// ErrTypeMismatch is returned when a key holds a different type.
	ErrTypeMismatch = errors.New("tag: type mismatch")
)

// Compound is a set of named, typed values. The zero value is not usable; call New.
type Compound struct {
	entries map[string]any
}

// New creates an empty compound.
func New() *Compound {
	return &Compound{entries: make(map[string]any)}
}

func (c *Compound) SetInt32(key string, v int32) {
	c.entries[key] = v
}

func (c *Compound) SetInt64(key string, v int64) {
	c.entries[key] = v
}

func (c *Compound) SetString(key string, v string) {
	c.entries[key] = v
}

func (c *Compound) SetCompound(key string, v *Compound) {
	c.entries[key] = v
}

// SetStringList stores a copy of v.
func (c *Compound) SetStringList(key string, v []string) {
	c.entries[key] = append([]string{}, v...)
}

// SetCompoundList stores a copy of the slice (the compounds themselves are shared).
func (c *Compound) SetCompoundList(key string, v []*Compound) {
	c.entries[key] = append([]*Compound{}, v...)
}

// Has reports whether key is present.
func (c *Compound) Has(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// Delete removes key if present.
func (c *Compound) Delete(key string) {
	delete(c.entries, key)
}

// Len returns the number of fields.
func (c *Compound) Len() int {
	return len(c.entries)
}

// Keys returns the field names in sorted order.
func (c *Compound) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func get[T any](c *Compound, key string) (T, error) {
	var zero T
	raw, ok := c.entries[key]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrMissingField, key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is %T, want %T", ErrTypeMismatch, key, raw, zero)
	}
	return v, nil
}

// GetInt32 returns the int32 stored under key.
func (c *Compound) GetInt32(key string) (int32, error) {
	return get[int32](c, key)
}

// GetInt64 returns the int64 stored under key.
func (c *Compound) GetInt64(key string) (int64, error) {
	return get[int64](c, key)
}

// GetString returns the string stored under key.
func (c *Compound) GetString(key string) (string, error) {
	return get[string](c, key)
}

// GetStringList returns a copy of the string list stored under key.
func (c *Compound) GetStringList(key string) ([]string, error) {
	v, err := get[[]string](c, key)
	if err != nil {
		return nil, err
	}
	return append([]string{}, v...), nil
}

// GetCompound returns the nested compound stored under key.
func (c *Compound) GetCompound(key string) (*Compound, error) {
	return get[*Compound](c, key)
}

// GetCompoundList returns the compound list stored under key.
func (c *Compound) GetCompoundList(key string) ([]*Compound, error) {
	v, err := get[[]*Compound](c, key)
	if err != nil {
		return nil, err
	}
	return append([]*Compound{}, v...), nil
}

// MarshalJSON renders the compound as a plain JSON object for inspection.
// It is not read back; Marshal/Unmarshal is the lossless form.
func (c *Compound) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.entries)
}
