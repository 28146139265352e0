package adapter

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrTypeMismatch is returned when a value cannot be stored in a slot of
// the requested type.
var ErrTypeMismatch = errors.New("type mismatch")

// ErrArgCount is returned when a call receives the wrong number of arguments.
var ErrArgCount = errors.New("wrong argument count")

// ValueFor converts v into a reflect.Value assignable to t.
//
// nil becomes the zero value of nillable types (pointer, interface, map,
// slice, func, chan). No implicit numeric conversions are performed; the
// same assignments Go itself would reject are rejected here.
func ValueFor(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s: %w", t, ErrTypeMismatch)
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(t) {
		return reflect.Value{}, fmt.Errorf("cannot use %s as %s: %w", rv.Type(), t, ErrTypeMismatch)
	}
	return rv, nil
}

// Arguments converts args into call arguments for a function of type ft,
// honoring variadic parameters.
func Arguments(ft reflect.Type, args []any) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("%s: got %d arguments, want at least %d: %w", ft, len(args), n-1, ErrArgCount)
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("%s: got %d arguments, want %d: %w", ft, len(args), n, ErrArgCount)
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := ParamType(ft, i)
		v, err := ValueFor(a, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v
	}
	return in, nil
}

// ParamType returns the type of argument i for a call of ft, resolving the
// element type for positions that fall into a variadic tail.
func ParamType(ft reflect.Type, i int) reflect.Type {
	n := ft.NumIn()
	if ft.IsVariadic() && i >= n-1 {
		return ft.In(n - 1).Elem()
	}
	return ft.In(i)
}
