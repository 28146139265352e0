package mutation

import (
	"fmt"
	"reflect"

	"github.com/kolkov/taintflow/internal/taint/adapter"
	"github.com/kolkov/taintflow/internal/taint/origin"
	"github.com/kolkov/taintflow/internal/taint/shadow"
)

// pair is one converted map assignment.
type pair struct {
	k, v reflect.Value
	set  origin.Set
	held bool
}

func apply(e *shadow.Entry, m reflect.Value, p pair) {
	m.SetMapIndex(p.k, p.v)
	if p.held {
		e.SetItem(p.k.Interface(), p.set)
	} else {
		e.DeleteItem(p.k.Interface())
	}
}

func writable(op string, coll any) (reflect.Value, error) {
	m, err := mapping(coll, true)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%s: %w", op, err)
	}
	if m.IsNil() {
		return reflect.Value{}, fmt.Errorf("%s: %w", op, ErrNilMap)
	}
	return m, nil
}

// SetKey stores v under k. A referenceable v carries its own entry and any
// per-key origins for k are dropped; otherwise k gets v's origins.
func (h *Handlers) SetKey(coll, k, v any) error {
	return h.withEntry(coll, func(e *shadow.Entry) error {
		m, err := writable("set key", coll)
		if err != nil {
			return err
		}
		kv, err := adapter.ValueFor(adapter.Unwrap(k), m.Type().Key())
		if err != nil {
			return fmt.Errorf("set key: %w", err)
		}
		raw, c := h.cellFor(v)
		vv, err := adapter.ValueFor(raw, m.Type().Elem())
		if err != nil {
			return fmt.Errorf("set key: %w", err)
		}
		apply(e, m, pair{k: kv, v: vv, set: c.Origins, held: c.Held})
		return nil
	})
}

// Update stores every entry of the map src into coll. Boxed keys and values
// are unwrapped; a boxed value keeps its own origins, the others carry their
// lineage inside src: src's per-key origins, their own entry, or src's
// origins.
func (h *Handlers) Update(coll, src any) error {
	return h.withEntry(coll, func(e *shadow.Entry) error {
		m, err := writable("update", coll)
		if err != nil {
			return err
		}
		sv := source(src)
		if sv.Kind() != reflect.Map {
			return fmt.Errorf("update: source %T: %w", adapter.Unwrap(src), ErrNotMap)
		}

		var srcEntry shadow.Entry
		h.store.View(src, func(se *shadow.Entry) { srcEntry = se.Clone() })

		pairs := make([]pair, 0, sv.Len())
		it := sv.MapRange()
		for it.Next() {
			key := adapter.Unwrap(it.Key().Interface())
			kv, err := adapter.ValueFor(key, m.Type().Key())
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			p := pair{k: kv}
			elem := it.Value().Interface()
			if adapter.IsRef(elem) {
				var c shadow.Cell
				elem, c = h.cellFor(elem)
				p.set, p.held = c.Origins, c.Held
			} else if set, ok := srcEntry.Item(key); ok {
				p.set, p.held = set, true
			} else if adapter.Classify(elem) != adapter.Referenceable {
				p.set, p.held = srcEntry.Self, true
			}
			if p.v, err = adapter.ValueFor(elem, m.Type().Elem()); err != nil {
				return fmt.Errorf("update: key %v: %w", kv.Interface(), err)
			}
			pairs = append(pairs, p)
		}

		for _, p := range pairs {
			apply(e, m, p)
		}
		return nil
	})
}

// DeleteKey removes k from coll. A missing key is not an error.
func (h *Handlers) DeleteKey(coll, k any) error {
	return h.withEntry(coll, func(e *shadow.Entry) error {
		m, err := mapping(coll, false)
		if err != nil {
			return fmt.Errorf("delete key: %w", err)
		}
		kv, err := adapter.ValueFor(adapter.Unwrap(k), m.Type().Key())
		if err != nil {
			return fmt.Errorf("delete key: %w", err)
		}
		if m.IsNil() {
			return nil
		}
		m.SetMapIndex(kv, reflect.Value{})
		e.DeleteItem(kv.Interface())
		return nil
	})
}

// PopKey removes k from coll and returns its value, recorded with the
// origins it had inside coll. A missing key is a *KeyError.
func (h *Handlers) PopKey(coll, k any) (any, error) {
	var out any
	err := h.withEntry(coll, func(e *shadow.Entry) error {
		m, err := mapping(coll, false)
		if err != nil {
			return fmt.Errorf("pop key: %w", err)
		}
		kv, err := adapter.ValueFor(adapter.Unwrap(k), m.Type().Key())
		if err != nil {
			return fmt.Errorf("pop key: %w", err)
		}
		mv := m.MapIndex(kv)
		if !mv.IsValid() {
			return &KeyError{Op: "pop key", Key: kv.Interface()}
		}
		elem := mv.Interface()
		set := h.itemOrigins(e, kv.Interface(), elem)

		m.SetMapIndex(kv, reflect.Value{})
		e.DeleteItem(kv.Interface())
		out = h.store.Record(elem, set)
		return nil
	})
	return out, err
}

// ClearKeys removes every key of coll and drops every per-key record.
// The collection's own origins are kept.
func (h *Handlers) ClearKeys(coll any) error {
	return h.withEntry(coll, func(e *shadow.Entry) error {
		m, err := mapping(coll, false)
		if err != nil {
			return fmt.Errorf("clear keys: %w", err)
		}
		if !m.IsNil() {
			m.Clear()
		}
		e.Items = nil
		return nil
	})
}
