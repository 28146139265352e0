// Package mutation keeps per-element provenance aligned with in-place
// collection mutation.
//
// A tracked collection's entry carries a parallel structure: one cell per
// element for sequences, one origin set per key for maps. Three handler
// families maintain it:
//   - positional (Append, Extend, Insert, Pop, SetIndex, Clear) apply the
//     same positional edit to the cells
//   - key-based (SetKey, Update, DeleteKey, PopKey, ClearKeys) edit the
//     per-key sets
//   - permutations (Permute, Sort, Reverse, Shuffle) tag every element with
//     its original position, let the reorder run untouched, then rebuild
//     the cells by following the tags
//
// Elements that are themselves referenceable carry their own entry and get
// no cell of their own.
//
// Every handler validates its arguments before touching the collection, so
// a failing call leaves both the collection and its provenance unchanged.
// Collections that cannot be tracked are still mutated; only the
// bookkeeping is skipped.
package mutation

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kolkov/taintflow/internal/taint/adapter"
	"github.com/kolkov/taintflow/internal/taint/origin"
	"github.com/kolkov/taintflow/internal/taint/shadow"
)

// Handlers applies collection mutations against one store.
type Handlers struct {
	store   *shadow.Store
	logger  *zap.Logger
	applied atomic.Uint64
}

// Option configures Handlers.
type Option func(*Handlers)

// WithLogger sets the logger for degradation diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// New returns handlers bound to store.
func New(store *shadow.Store, opts ...Option) *Handlers {
	h := &Handlers{store: store, logger: zap.NewNop()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// withEntry runs fn on the entry of coll under the store lock. Collections
// without an entry get a scratch entry so fn still performs the mutation.
func (h *Handlers) withEntry(coll any, fn func(e *shadow.Entry) error) (err error) {
	defer func() {
		if err == nil {
			h.applied.Add(1)
		}
	}()
	if h.store.Mutate(coll, func(e *shadow.Entry) { err = fn(e) }) {
		return err
	}
	h.logger.Debug("collection provenance skipped", zap.String("type", fmt.Sprintf("%T", adapter.Unwrap(coll))))
	var scratch shadow.Entry
	return fn(&scratch)
}

// Applied returns the number of mutations that completed successfully.
func (h *Handlers) Applied() uint64 {
	return h.applied.Load()
}

// cellFor returns the unwrapped form of v and the cell describing it.
func (h *Handlers) cellFor(v any) (any, shadow.Cell) {
	raw := adapter.Unwrap(v)
	if adapter.Classify(raw) == adapter.Referenceable {
		return raw, shadow.Cell{}
	}
	return raw, shadow.Held(h.store.OriginOf(v))
}

// elemOrigins resolves the origins of element elem held at cell c of a
// collection whose own origins are self.
func (h *Handlers) elemOrigins(c shadow.Cell, elem any, self origin.Set) origin.Set {
	if c.Held {
		return c.Origins
	}
	if own, ok := h.store.Lookup(elem); ok {
		return own
	}
	return self
}

// itemOrigins is elemOrigins for map values.
func (h *Handlers) itemOrigins(e *shadow.Entry, k, elem any) origin.Set {
	if set, ok := e.Item(k); ok {
		return set
	}
	if own, ok := h.store.Lookup(elem); ok {
		return own
	}
	return e.Self
}

// align makes the parallel cells match a sequence of n elements. Elements
// the cells have never seen get empty cells, which resolve through the
// element's own entry or the collection's origins.
func align(e *shadow.Entry, n int) {
	if len(e.Elems) > n {
		e.Elems = e.Elems[:n]
		return
	}
	e.Grow(n)
}

// Item reads element key of coll: an int position of a sequence or a key
// of a map. The element comes back recorded with its resolved origins:
//  1. the collection's cell or per-key set for it
//  2. otherwise the element's own entry
//  3. otherwise the collection's own origins
func (h *Handlers) Item(coll, key any) (any, error) {
	if s, err := sequence(coll); err == nil {
		i, ok := adapter.Unwrap(key).(int)
		if !ok {
			return nil, fmt.Errorf("index of type %T: %w", adapter.Unwrap(key), adapter.ErrTypeMismatch)
		}
		if i < 0 || i >= s.len() {
			return nil, &IndexError{Op: "item", Index: i, Len: s.len()}
		}
		elem := s.at(i)
		var set origin.Set
		h.store.View(coll, func(e *shadow.Entry) {
			set = h.elemOrigins(e.Elem(i), elem, e.Self)
		})
		return h.store.Record(elem, set), nil
	}

	m, err := mapping(coll, false)
	if err != nil {
		return nil, fmt.Errorf("item: %w", err)
	}
	kv, err := adapter.ValueFor(adapter.Unwrap(key), m.Type().Key())
	if err != nil {
		return nil, err
	}
	mv := m.MapIndex(kv)
	if !mv.IsValid() {
		return nil, &KeyError{Op: "item", Key: kv.Interface()}
	}
	elem := mv.Interface()
	var set origin.Set
	h.store.View(coll, func(e *shadow.Entry) {
		set = h.itemOrigins(e, kv.Interface(), elem)
	})
	return h.store.Record(elem, set), nil
}
