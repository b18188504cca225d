package stage

import (
	"context"
	"fmt"
	"reflect"

	"stageweaver/internal/codehash"
)

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
	anyType = reflect.TypeOf((*any)(nil)).Elem()
)

// fnSignature is the reflected shape of a wrapped function.
type fnSignature struct {
	rtype       reflect.Type
	takesCtx    bool
	trailingErr bool
}

func describeFn(fn any) (fnSignature, error) {
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func || rv.IsNil() {
		return fnSignature{}, fmt.Errorf("stage callable must be a non-nil function, got %T", fn)
	}
	rtype := rv.Type()
	if rtype.IsVariadic() {
		return fnSignature{}, fmt.Errorf("variadic callables are not supported: %s", rtype)
	}

	sig := fnSignature{rtype: rtype}
	if rtype.NumIn() > 0 && rtype.In(0) == ctxType {
		sig.takesCtx = true
	}
	if rtype.NumOut() > 0 && rtype.Out(rtype.NumOut()-1) == errType {
		sig.trailingErr = true
	}
	return sig, nil
}

// numDataParams is the parameter count excluding a leading context.
func (sig fnSignature) numDataParams() int {
	n := sig.rtype.NumIn()
	if sig.takesCtx {
		n--
	}
	return n
}

// defaultInputNames reads parameter names from the function's source,
// dropping a leading context parameter. When the source is unavailable
// the names degrade to arg0, arg1, ...; fingerprinting will still
// demand the source if a cache directory is configured.
func defaultInputNames(fn any, sig fnSignature) ([]string, error) {
	names, err := codehash.Describe(fn)
	if err == nil && sig.takesCtx && len(names) > 0 {
		names = names[1:]
	}
	if err != nil || len(names) != sig.numDataParams() {
		names = make([]string, sig.numDataParams())
		for i := range names {
			names[i] = fmt.Sprintf("arg%d", i)
		}
	}
	return names, nil
}

// invoke calls the wrapped function with inputs bound by declared name.
// A leading context parameter receives the run context; a trailing
// error result is surfaced as the Run error and is not an output.
func (s *Stage) invoke(ctx context.Context, merged map[string]any) ([]any, error) {
	if s.kind == kindCommand {
		return s.invokeCommand(ctx, merged)
	}

	rtype := s.fnType.rtype
	in := make([]reflect.Value, 0, rtype.NumIn())
	offset := 0
	if s.fnType.takesCtx {
		in = append(in, reflect.ValueOf(ctx))
		offset = 1
	}
	for i, name := range s.inputs {
		v, ok := merged[name]
		if !ok {
			return nil, fmt.Errorf("stage %q: missing input %q", s.name, name)
		}
		rv, err := coerce(v, rtype.In(i+offset))
		if err != nil {
			return nil, fmt.Errorf("stage %q: input %q: %w", s.name, name, err)
		}
		in = append(in, rv)
	}

	outs := reflect.ValueOf(s.fn).Call(in)
	if s.fnType.trailingErr {
		last := outs[len(outs)-1]
		if !last.IsNil() {
			return nil, fmt.Errorf("stage %q: %w", s.name, last.Interface().(error))
		}
		outs = outs[:len(outs)-1]
	}

	returns := make([]any, len(outs))
	for i, o := range outs {
		returns[i] = o.Interface()
	}
	return returns, nil
}

// coerce adapts a runtime input (possibly a JSON-decoded float64 or
// []any from a cache load) to the parameter type the function expects.
func coerce(v any, t reflect.Type) (reflect.Value, error) {
	if t == anyType {
		if v == nil {
			return reflect.Zero(t), nil
		}
		return reflect.ValueOf(v), nil
	}
	if v == nil {
		switch t.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", t)
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if convertibleKinds(rv.Kind(), t.Kind()) && rv.Type().ConvertibleTo(t) {
		return rv.Convert(t), nil
	}

	switch t.Kind() {
	case reflect.Slice:
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			break
		}
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := coerce(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case reflect.Map:
		if rv.Kind() != reflect.Map || t.Key().Kind() != reflect.String {
			break
		}
		out := reflect.MakeMapWithSize(t, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ev, err := coerce(iter.Value().Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %q: %w", iter.Key().String(), err)
			}
			out.SetMapIndex(iter.Key().Convert(t.Key()), ev)
		}
		return out, nil
	}

	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t)
}

// convertibleKinds gates reflect.Convert to numeric-to-numeric and
// string-to-string conversions, ruling out surprises like int→string
// rune conversion.
func convertibleKinds(from, to reflect.Kind) bool {
	return (isNumericKind(from) && isNumericKind(to)) ||
		(from == reflect.String && to == reflect.String)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
