package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ErrUnsupported is returned when the wrapped value does not support the
// delegated operation (e.g. Len on an int).
var ErrUnsupported = errors.New("adapter: operation not supported by wrapped value")

// Ref is the transparent box around an adaptable value.
//
// Every operation below forwards to the wrapped value, so code that goes
// through the engine observes identical behavior whether or not a value
// happens to be adapted. Ref has a non-zero size, so its address is a valid
// identity for the shadow store.
type Ref struct {
	v any
}

// Value returns the wrapped value.
func (r *Ref) Value() any {
	return r.v
}

// Set replaces the wrapped value. Used by collection and attribute handlers
// when the wrapped value has value semantics (slices grown by append,
// struct values updated by copy). A Ref argument is unwrapped first so
// adapters never nest.
func (r *Ref) Set(v any) {
	r.v = Unwrap(v)
}

// Len returns the length of a wrapped string, slice, array, map or channel.
func (r *Ref) Len() (int, error) {
	rv := reflect.ValueOf(r.v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map, reflect.Chan:
		return rv.Len(), nil
	default:
		return 0, fmt.Errorf("len of %T: %w", r.v, ErrUnsupported)
	}
}

// Index returns element i of a wrapped string, slice or array.
// Strings index to bytes, as in Go.
func (r *Ref) Index(i int) (any, error) {
	rv := reflect.ValueOf(r.v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array:
		if i < 0 || i >= rv.Len() {
			return nil, fmt.Errorf("index %d out of range [0:%d]", i, rv.Len())
		}
		return rv.Index(i).Interface(), nil
	default:
		return nil, fmt.Errorf("index of %T: %w", r.v, ErrUnsupported)
	}
}

// Key returns the value stored under k in a wrapped map, and whether it was
// present.
func (r *Ref) Key(k any) (any, bool, error) {
	rv := reflect.ValueOf(r.v)
	if rv.Kind() != reflect.Map {
		return nil, false, fmt.Errorf("key lookup on %T: %w", r.v, ErrUnsupported)
	}
	kv, err := ValueFor(Unwrap(k), rv.Type().Key())
	if err != nil {
		return nil, false, err
	}
	mv := rv.MapIndex(kv)
	if !mv.IsValid() {
		return nil, false, nil
	}
	return mv.Interface(), true, nil
}

// Range calls fn for each element of a wrapped slice, array, string or
// map. Slices and arrays yield (index, element); maps yield (key, value)
// in Go's unspecified order; strings yield (byte offset, rune).
// Iteration stops when fn returns false.
func (r *Ref) Range(fn func(k, v any) bool) error {
	rv := reflect.ValueOf(r.v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if !fn(i, rv.Index(i).Interface()) {
				return nil
			}
		}
	case reflect.Map:
		it := rv.MapRange()
		for it.Next() {
			if !fn(it.Key().Interface(), it.Value().Interface()) {
				return nil
			}
		}
	case reflect.String:
		for i, c := range rv.String() {
			if !fn(i, c) {
				return nil
			}
		}
	default:
		return fmt.Errorf("range over %T: %w", r.v, ErrUnsupported)
	}
	return nil
}

// Truth reports the truthiness of the wrapped value: false for the zero
// value and for empty strings, slices, maps and channels.
func (r *Ref) Truth() bool {
	rv := reflect.ValueOf(r.v)
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Chan:
		return rv.Len() > 0
	default:
		return !rv.IsZero()
	}
}

// Call invokes a wrapped function value with unwrapped arguments.
func (r *Ref) Call(args ...any) ([]any, error) {
	fv := reflect.ValueOf(r.v)
	if fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("call of %T: %w", r.v, ErrUnsupported)
	}
	in, err := Arguments(fv.Type(), UnwrapAll(args))
	if err != nil {
		return nil, err
	}
	out := fv.Call(in)
	res := make([]any, len(out))
	for i, o := range out {
		res[i] = o.Interface()
	}
	return res, nil
}

// Equal compares the wrapped value with other (unwrapped). Comparable
// values use ==, everything else reflect.DeepEqual.
func (r *Ref) Equal(other any) bool {
	a, b := r.v, Unwrap(other)
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.IsValid() && rb.IsValid() && ra.Type() == rb.Type() && ra.Comparable() && rb.Comparable() {
		return ra.Equal(rb)
	}
	return reflect.DeepEqual(a, b)
}

// Format makes the fmt package print the wrapped value, honoring the verb
// and flags.
func (r *Ref) Format(f fmt.State, verb rune) {
	fmt.Fprintf(f, fmt.FormatString(f, verb), r.v)
}

// MarshalJSON encodes the wrapped value.
func (r *Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.v)
}
