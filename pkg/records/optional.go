package records

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Sentinel is the encoded form of an unset record at both codec surfaces.
const Sentinel = -1

// Integer is the set of types a record value can take.
type Integer interface {
	~int32 | ~int64
}

// Optional holds a record value that may not have been achieved yet.
// The zero value is unset.
type Optional[T Integer] struct {
	value T
	set   bool
}

// Some returns a set Optional holding v.
func Some[T Integer](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// FromSentinel decodes the wire/persistent form, where Sentinel means unset.
func FromSentinel[T Integer](v T) Optional[T] {
	if v == Sentinel {
		return Optional[T]{}
	}
	return Some(v)
}

// Get returns the value and whether it is set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether a value has been recorded.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// OrSentinel returns the value, or Sentinel when unset.
func (o Optional[T]) OrSentinel() T {
	if !o.set {
		return Sentinel
	}
	return o.value
}

// BeatenBy reports whether v would replace o as a lowest-is-best record.
// Any value beats an unset record.
func (o Optional[T]) BeatenBy(v T) bool {
	return !o.set || v < o.value
}

// worseThan reports whether o would regress the record held in stored.
// An unset o is worse than any set record.
func (o Optional[T]) worseThan(stored Optional[T]) bool {
	if !stored.set {
		return false
	}
	return !o.set || o.value > stored.value
}

func (o Optional[T]) String() string {
	if !o.set {
		return "unset"
	}
	return strconv.FormatInt(int64(o.value), 10)
}

// MarshalJSON encodes an unset value as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, int64(o.value), 10), nil
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
