package pgsupporter

import (
	"database/sql/driver"
	"reflect"
	"time"
)

// Kind tags a Value as bound verbatim or as JSON.
type Kind int

const (
	// KindScalar values are bound as-is with a plain %s placeholder.
	KindScalar Kind = iota
	// KindStructured values are JSON encoded and bound with %s::json.
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// Value is a statement parameter tagged with how it is bound.
//
// Use ValueOf to classify an arbitrary Go value, or Scalar and JSON to
// force a tag (a struct meant to be stored in a json column, for example).
type Value struct {
	kind Kind
	v    any
}

// Scalar wraps v as a scalar parameter.
func Scalar(v any) Value {
	return Value{kind: KindScalar, v: v}
}

// JSON wraps v as a structured parameter. It is JSON encoded at bind time.
func JSON(v any) Value {
	return Value{kind: KindStructured, v: v}
}

// ValueOf classifies v by shape. Maps, slices and arrays are structured;
// everything else, including []byte, time.Time and driver.Valuer
// implementations, is scalar. A Value passed in is returned unchanged.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case Value:
		return x
	case nil, string, bool, []byte, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return Scalar(v)
	case driver.Valuer:
		return Scalar(x)
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return JSON(v)
	default:
		return Scalar(v)
	}
}

// Kind reports how the value is bound.
func (v Value) Kind() Kind { return v.kind }

// Any returns the wrapped Go value.
func (v Value) Any() any { return v.v }

// IsStructured reports whether the value binds as JSON.
func (v Value) IsStructured() bool { return v.kind == KindStructured }

// Placeholder returns the placeholder text for the value.
func (v Value) Placeholder() string {
	if v.kind == KindStructured {
		return "%s::json"
	}
	return "%s"
}

func valuesOf(vs []any) []Value {
	if len(vs) == 0 {
		return nil
	}
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = ValueOf(v)
	}
	return out
}
