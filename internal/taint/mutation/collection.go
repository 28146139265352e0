package mutation

import (
	"fmt"
	"reflect"

	"github.com/kolkov/taintflow/internal/taint/adapter"
)

// seq is a writable view of a sequence collection.
type seq struct {
	v      reflect.Value       // slice, or addressable array
	resize func(reflect.Value) // stores a resliced value back; nil when length is fixed
	commit func()              // publishes in-place changes; nil when they are already visible
}

// sequence resolves coll into a sequence view. Accepted forms:
//   - an adapter holding a slice or an array
//   - a pointer to a slice or an array
//   - a bare slice (fixed length, bookkeeping skipped)
func sequence(coll any) (*seq, error) {
	if r, ok := coll.(*adapter.Ref); ok {
		rv := reflect.ValueOf(r.Value())
		switch rv.Kind() {
		case reflect.Slice:
			s := &seq{v: rv}
			s.resize = func(nv reflect.Value) {
				s.v = nv
				r.Set(nv.Interface())
			}
			return s, nil
		case reflect.Array:
			cp := reflect.New(rv.Type()).Elem()
			cp.Set(rv)
			return &seq{v: cp, commit: func() { r.Set(cp.Interface()) }}, nil
		}
		return nil, fmt.Errorf("%T: %w", r.Value(), ErrNotSequence)
	}

	rv := reflect.ValueOf(coll)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			break
		}
		ev := rv.Elem()
		switch ev.Kind() {
		case reflect.Slice:
			s := &seq{v: ev}
			s.resize = func(nv reflect.Value) {
				ev.Set(nv)
				s.v = ev
			}
			return s, nil
		case reflect.Array:
			return &seq{v: ev}, nil
		}
	case reflect.Slice:
		return &seq{v: rv}, nil
	}
	return nil, fmt.Errorf("%T: %w", coll, ErrNotSequence)
}

func (s *seq) len() int { return s.v.Len() }

func (s *seq) elem() reflect.Type { return s.v.Type().Elem() }

func (s *seq) at(i int) any { return s.v.Index(i).Interface() }

// slice returns the elements as a slice sharing storage with the view.
func (s *seq) slice() reflect.Value {
	if s.v.Kind() == reflect.Array {
		return s.v.Slice(0, s.v.Len())
	}
	return s.v
}

func (s *seq) done() {
	if s.commit != nil {
		s.commit()
	}
}

// mapping resolves coll into its map value. Accepted forms:
//   - an adapter holding a map
//   - a pointer to a map
//   - a bare map (bookkeeping skipped)
//
// With alloc set, a nil map held by an adapter or a pointer is replaced by
// a fresh one.
func mapping(coll any, alloc bool) (reflect.Value, error) {
	if r, ok := coll.(*adapter.Ref); ok {
		rv := reflect.ValueOf(r.Value())
		if rv.Kind() != reflect.Map {
			return reflect.Value{}, fmt.Errorf("%T: %w", r.Value(), ErrNotMap)
		}
		if rv.IsNil() && alloc {
			rv = reflect.MakeMap(rv.Type())
			r.Set(rv.Interface())
		}
		return rv, nil
	}

	rv := reflect.ValueOf(coll)
	switch rv.Kind() {
	case reflect.Pointer:
		if !rv.IsNil() && rv.Elem().Kind() == reflect.Map {
			ev := rv.Elem()
			if ev.IsNil() && alloc {
				ev.Set(reflect.MakeMap(ev.Type()))
			}
			return ev, nil
		}
	case reflect.Map:
		return rv, nil
	}
	return reflect.Value{}, fmt.Errorf("%T: %w", coll, ErrNotMap)
}

// source resolves a read-only sequence or map used as the input of Extend
// or Update.
func source(v any) reflect.Value {
	rv := reflect.ValueOf(adapter.Unwrap(v))
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	return rv
}
