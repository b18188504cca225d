// Package value defines the JSON-compatible data model shared by the
// fingerprinting, caching, and pipeline layers.
//
// It is intentionally split into:
//   - A closed sum type (Null, Bool, Number, String, List, Map, FileRef)
//     instead of reflection over native containers
//   - A canonical byte encoding (encode.go) used both for persistence and
//     as the pre-image for fingerprinting
//
// Numbers carry JSON semantics (float64). Go has no tuple type, so ordered
// sequences are Lists by construction and survive encode/decode unchanged.
package value

import (
	"fmt"
	"reflect"
)

// Kind discriminates the Value variants.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
	KindFileRef
)

// Value is a closed sum over the JSON-compatible variants.
//
// Implementations are Null, Bool, Number, String, List, Map, and FileRef.
type Value interface {
	Kind() Kind
}

// Null is the JSON null.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number with float64 semantics.
type Number float64

// String is a JSON string.
type String string

// List is an ordered sequence of Values.
type List []Value

// Map is a string-keyed mapping. Insertion order is irrelevant for
// hashing; the canonical encoding sorts keys.
type Map map[string]Value

// FileRef is the structured substitute for a string that names an
// existing file, carrying the sha256 of its contents at annotation time.
//
// It encodes as {"file": <path>, "hash": <sha256-hex>}. The two keys are
// reserved: a Map with exactly these two string-valued keys decodes as a
// FileRef, so stage outputs must not legitimately produce that shape for
// non-file data.
type FileRef struct {
	Path string
	Hash string
}

func (Null) Kind() Kind    { return KindNull }
func (Bool) Kind() Kind    { return KindBool }
func (Number) Kind() Kind  { return KindNumber }
func (String) Kind() Kind  { return KindString }
func (List) Kind() Kind    { return KindList }
func (Map) Kind() Kind     { return KindMap }
func (FileRef) Kind() Kind { return KindFileRef }

// ErrNotRepresentable reports a Go value outside the JSON-compatible model.
type ErrNotRepresentable struct {
	Type string
}

func (e *ErrNotRepresentable) Error() string {
	return fmt.Sprintf("value of type %s is not representable in the JSON value model", e.Type)
}

// FromGo converts a JSON-compatible Go native into a Value.
//
// Accepted: nil, bool, all integer and float kinds, string, slices and
// arrays of accepted values, string-keyed maps of accepted values, and
// Values themselves (passed through). Anything else is an
// *ErrNotRepresentable.
func FromGo(v any) (Value, error) {
	if v == nil {
		return Null{}, nil
	}

	// Values pass through untouched so callers can mix pre-built Values
	// with natives.
	if vv, ok := v.(Value); ok {
		if vv == nil {
			return Null{}, nil
		}
		return vv, nil
	}

	switch t := v.(type) {
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(t), nil
	case int:
		return Number(t), nil
	case int8:
		return Number(t), nil
	case int16:
		return Number(t), nil
	case int32:
		return Number(t), nil
	case int64:
		return Number(t), nil
	case uint:
		return Number(t), nil
	case uint8:
		return Number(t), nil
	case uint16:
		return Number(t), nil
	case uint32:
		return Number(t), nil
	case uint64:
		return Number(t), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		list := make(List, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			list[i] = ev
		}
		return list, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &ErrNotRepresentable{Type: rv.Type().String()}
		}
		m := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ev, err := FromGo(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			m[iter.Key().String()] = ev
		}
		return m, nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return FromGo(rv.Elem().Interface())
	}

	return nil, &ErrNotRepresentable{Type: fmt.Sprintf("%T", v)}
}

// FromGoMap converts a native string-keyed mapping into a Map.
func FromGoMap(m map[string]any) (Map, error) {
	out := make(Map, len(m))
	for k, v := range m {
		vv, err := FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = vv
	}
	return out, nil
}

// ToGo converts a Value back into Go natives: nil, bool, float64, string,
// []any, and map[string]any. A FileRef erases to its path string, which is
// the view the engine hands to callables.
func ToGo(v Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Null:
		return nil
	case Bool:
		return bool(t)
	case Number:
		return float64(t)
	case String:
		return string(t)
	case FileRef:
		return t.Path
	case List:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToGo(e)
		}
		return out
	case Map:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = ToGo(e)
		}
		return out
	}
	return nil
}

// ToGoMap converts a Map into a native map[string]any.
func ToGoMap(m Map) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = ToGo(v)
	}
	return out
}

// Equal reports deep structural equality of two Values.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Null:
		return true
	case Bool:
		return av == b.(Bool)
	case Number:
		return av == b.(Number)
	case String:
		return av == b.(String)
	case FileRef:
		return av == b.(FileRef)
	case List:
		bv := b.(List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv := b.(Map)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !Equal(v, bvv) {
				return false
			}
		}
		return true
	}
	return false
}
