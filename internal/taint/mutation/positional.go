package mutation

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/kolkov/taintflow/internal/taint/adapter"
	"github.com/kolkov/taintflow/internal/taint/origin"
	"github.com/kolkov/taintflow/internal/taint/shadow"
)

// prepare converts vals to elements of type t and computes their cells.
func (h *Handlers) prepare(t reflect.Type, vals []any) ([]reflect.Value, []shadow.Cell, error) {
	in := make([]reflect.Value, len(vals))
	cells := make([]shadow.Cell, len(vals))
	for i, v := range vals {
		raw, c := h.cellFor(v)
		rv, err := adapter.ValueFor(raw, t)
		if err != nil {
			return nil, nil, err
		}
		in[i], cells[i] = rv, c
	}
	return in, cells, nil
}

// Append appends vals to coll, each element keeping the origins of the
// value it came from.
func (h *Handlers) Append(coll any, vals ...any) error {
	return h.withEntry(coll, func(e *shadow.Entry) error {
		s, err := resizable("append", coll)
		if err != nil {
			return err
		}
		in, cells, err := h.prepare(s.elem(), vals)
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		align(e, s.len())
		s.resize(reflect.Append(s.v, in...))
		e.Elems = append(e.Elems, cells...)
		return nil
	})
}

// Extend appends every element of src to coll. Boxed elements are unwrapped
// and keep their own origins; the others carry their lineage inside src:
// src's cell for them, their own entry, or src's origins.
func (h *Handlers) Extend(coll, src any) error {
	return h.withEntry(coll, func(e *shadow.Entry) error {
		s, err := resizable("extend", coll)
		if err != nil {
			return err
		}
		sv := source(src)
		if sv.Kind() != reflect.Slice && sv.Kind() != reflect.Array {
			return fmt.Errorf("extend: source %T: %w", adapter.Unwrap(src), ErrNotSequence)
		}

		var (
			srcEntry shadow.Entry
			n        = sv.Len()
			in       = make([]reflect.Value, n)
			cells    = make([]shadow.Cell, n)
		)
		h.store.View(src, func(se *shadow.Entry) { srcEntry = se.Clone() })

		for j := 0; j < n; j++ {
			elem := sv.Index(j).Interface()
			var cell shadow.Cell
			switch c := srcEntry.Elem(j); {
			case adapter.IsRef(elem):
				elem, cell = h.cellFor(elem)
			case c.Held:
				cell = c
			case adapter.Classify(elem) == adapter.Referenceable:
				// resolved through its own entry
			default:
				cell = shadow.Held(srcEntry.Self)
			}
			rv, err := adapter.ValueFor(elem, s.elem())
			if err != nil {
				return fmt.Errorf("extend: element %d: %w", j, err)
			}
			in[j], cells[j] = rv, cell
		}

		align(e, s.len())
		s.resize(reflect.Append(s.v, in...))
		e.Elems = append(e.Elems, cells...)
		return nil
	})
}

// Insert inserts v before position i. i may equal the length of coll.
func (h *Handlers) Insert(coll any, i int, v any) error {
	return h.withEntry(coll, func(e *shadow.Entry) error {
		s, err := resizable("insert", coll)
		if err != nil {
			return err
		}
		n := s.len()
		if i < 0 || i > n {
			return &IndexError{Op: "insert", Index: i, Len: n}
		}
		in, cells, err := h.prepare(s.elem(), []any{v})
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}

		nv := reflect.MakeSlice(s.v.Type(), n+1, n+1)
		reflect.Copy(nv.Slice(0, i), s.v.Slice(0, i))
		nv.Index(i).Set(in[0])
		reflect.Copy(nv.Slice(i+1, n+1), s.v.Slice(i, n))
		s.resize(nv)

		align(e, n)
		e.Elems = slices.Insert(e.Elems, i, cells[0])
		return nil
	})
}

// Pop removes and returns the element at position i. A negative i counts
// from the end, so -1 pops the last element. The element comes back
// recorded with the origins it had inside coll.
func (h *Handlers) Pop(coll any, i int) (any, error) {
	var out any
	err := h.withEntry(coll, func(e *shadow.Entry) error {
		s, err := resizable("pop", coll)
		if err != nil {
			return err
		}
		n := s.len()
		idx := i
		if idx < 0 {
			idx += n
		}
		if idx < 0 || idx >= n {
			return &IndexError{Op: "pop", Index: i, Len: n}
		}
		align(e, n)

		elem := s.at(idx)
		set := h.elemOrigins(e.Elems[idx], elem, e.Self)

		nv := reflect.MakeSlice(s.v.Type(), n-1, n-1)
		reflect.Copy(nv.Slice(0, idx), s.v.Slice(0, idx))
		reflect.Copy(nv.Slice(idx, n-1), s.v.Slice(idx+1, n))
		s.resize(nv)
		e.Elems = slices.Delete(e.Elems, idx, idx+1)

		out = h.store.Record(elem, set)
		return nil
	})
	return out, err
}

// SetIndex replaces the element at position i with v.
func (h *Handlers) SetIndex(coll any, i int, v any) error {
	return h.withEntry(coll, func(e *shadow.Entry) error {
		s, err := sequence(coll)
		if err != nil {
			return fmt.Errorf("set index: %w", err)
		}
		n := s.len()
		if i < 0 || i >= n {
			return &IndexError{Op: "set index", Index: i, Len: n}
		}
		in, cells, err := h.prepare(s.elem(), []any{v})
		if err != nil {
			return fmt.Errorf("set index: %w", err)
		}
		s.v.Index(i).Set(in[0])
		s.done()

		align(e, n)
		e.Elems[i] = cells[0]
		return nil
	})
}

// Clear empties coll, keeping its capacity, and drops every cell.
// The collection's own origins are kept.
func (h *Handlers) Clear(coll any) error {
	return h.withEntry(coll, func(e *shadow.Entry) error {
		s, err := resizable("clear", coll)
		if err != nil {
			return err
		}
		s.resize(s.v.Slice(0, 0))
		e.Elems = nil
		return nil
	})
}

// Origins returns the resolved origins of every element of coll, in order,
// without recording anything.
func (h *Handlers) Origins(coll any) ([]origin.Set, error) {
	s, err := sequence(coll)
	if err != nil {
		return nil, fmt.Errorf("origins: %w", err)
	}
	n := s.len()
	out := make([]origin.Set, n)
	h.store.View(coll, func(e *shadow.Entry) {
		for i := 0; i < n; i++ {
			out[i] = h.elemOrigins(e.Elem(i), s.at(i), e.Self)
		}
	})
	return out, nil
}

func resizable(op string, coll any) (*seq, error) {
	s, err := sequence(coll)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if s.resize == nil {
		return nil, fmt.Errorf("%s: %T: %w", op, adapter.Unwrap(coll), ErrFixedSize)
	}
	return s, nil
}
