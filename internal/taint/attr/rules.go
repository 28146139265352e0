// Package attr implements attribute propagation: the read and write rules
// deciding whether an attribute's provenance lives in its parent's entry or
// in the attribute value's own entry.
//
// Attributes are exported struct fields (through pointers or adapters),
// entries of maps with string-kinded keys, or whatever a type implementing
// Attributes resolves.
//
// Population is lazy. Recording a parent scans nothing; an attribute gains
// provenance on first read, inheriting the parent's lineage unless it was
// assigned individually.
package attr

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kolkov/taintflow/internal/taint/adapter"
	"github.com/kolkov/taintflow/internal/taint/origin"
	"github.com/kolkov/taintflow/internal/taint/shadow"
)

// Rules applies attribute propagation against one store.
type Rules struct {
	store  *shadow.Store
	logger *zap.Logger
}

// Option configures Rules.
type Option func(*Rules)

// WithLogger sets the logger for degradation diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(r *Rules) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns rules bound to store.
func New(store *shadow.Store, opts ...Option) *Rules {
	r := &Rules{store: store, logger: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get reads attribute name of parent and returns it recorded with its
// resolved origins:
//  1. the origins the parent holds for name, if any
//  2. otherwise the value's own entry
//  3. otherwise the parent's own origins
//
// The returned value is in trackable form (boxed when adaptable).
func (r *Rules) Get(parent any, name string) (any, error) {
	v, err := load(parent, name)
	if err != nil {
		return nil, newError("get", adapter.Unwrap(parent), name, err)
	}
	return r.store.Record(v, r.resolve(parent, name, v)), nil
}

// Set assigns value to attribute name of parent.
//
// A referenceable value carries its provenance in its own entry, and any
// origins the parent held for name are dropped. Any other value has its
// origins kept on the parent under name. The assignment happens even when
// the parent cannot be tracked; only the bookkeeping is skipped then.
func (r *Rules) Set(parent any, name string, value any) error {
	set := r.store.OriginOf(value)
	raw := adapter.Unwrap(value)

	if err := store(parent, name, raw); err != nil {
		return newError("set", adapter.Unwrap(parent), name, err)
	}

	if adapter.Classify(raw) == adapter.Referenceable {
		r.store.Record(raw, set)
		r.store.Mutate(parent, func(e *shadow.Entry) { e.DeleteAttr(name) })
		return nil
	}
	if !r.store.Mutate(parent, func(e *shadow.Entry) { e.SetAttr(name, set) }) {
		r.logger.Debug("attribute provenance dropped",
			zap.String("attribute", name),
			zap.String("parent", fmt.Sprintf("%T", adapter.Unwrap(parent))))
	}
	return nil
}

// OriginOf resolves the origins of attribute name of parent without
// recording anything. Unreadable attributes resolve to the parent's origins.
func (r *Rules) OriginOf(parent any, name string) origin.Set {
	v, err := load(parent, name)
	if err != nil {
		return r.store.OriginOf(parent)
	}
	return r.resolve(parent, name, v)
}

func (r *Rules) resolve(parent any, name string, v any) origin.Set {
	var (
		set   origin.Set
		found bool
	)
	r.store.View(parent, func(e *shadow.Entry) {
		set, found = e.Attr(name)
		if !found {
			set = e.Self
		}
	})
	if found {
		return set
	}
	if own, ok := r.store.Lookup(v); ok {
		return own
	}
	return set
}
