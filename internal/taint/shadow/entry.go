package shadow

import (
	"maps"
	"slices"

	"github.com/kolkov/taintflow/internal/taint/origin"
)

// Entry is the provenance record of one tracked object.
type Entry struct {
	// Self is the origin set of the object as a whole.
	Self origin.Set

	// Attrs holds origins of attribute values that have no entry of their
	// own, keyed by attribute name.
	Attrs map[string]origin.Set

	// Elems runs parallel to a sequence collection, one cell per element.
	Elems []Cell

	// Items runs parallel to a map collection, keyed by the map key.
	// Keys whose values carry their own entry are absent.
	Items map[any]origin.Set

	// Stamp is the store clock at the last Record of the object.
	Stamp uint64
}

// Cell is the provenance of one sequence element.
type Cell struct {
	// Origins is meaningful only when Held is true.
	Origins origin.Set

	// Held is false when the element carries its own entry, in which case
	// that entry is authoritative.
	Held bool
}

// Held returns a cell holding set.
func Held(set origin.Set) Cell {
	return Cell{Origins: set, Held: true}
}

// SetAttr records set for attribute name.
func (e *Entry) SetAttr(name string, set origin.Set) {
	if e.Attrs == nil {
		e.Attrs = make(map[string]origin.Set)
	}
	e.Attrs[name] = set
}

// Attr returns the origins recorded for attribute name.
func (e *Entry) Attr(name string) (origin.Set, bool) {
	set, ok := e.Attrs[name]
	return set, ok
}

// DeleteAttr removes a stale attribute record.
func (e *Entry) DeleteAttr(name string) {
	delete(e.Attrs, name)
}

// SetItem records set for map key k.
func (e *Entry) SetItem(k any, set origin.Set) {
	if e.Items == nil {
		e.Items = make(map[any]origin.Set)
	}
	e.Items[k] = set
}

// Item returns the origins recorded for map key k.
func (e *Entry) Item(k any) (origin.Set, bool) {
	set, ok := e.Items[k]
	return set, ok
}

// DeleteItem removes the record for map key k.
func (e *Entry) DeleteItem(k any) {
	delete(e.Items, k)
}

// Elem returns cell i, or an empty cell when i is outside the parallel
// sequence.
func (e *Entry) Elem(i int) Cell {
	if i < 0 || i >= len(e.Elems) {
		return Cell{}
	}
	return e.Elems[i]
}

// Grow pads the parallel sequence with empty cells up to n elements. Used
// when a collection was populated before it was tracked.
func (e *Entry) Grow(n int) {
	if len(e.Elems) < n {
		e.Elems = append(e.Elems, make([]Cell, n-len(e.Elems))...)
	}
}

// Clone returns a deep copy of e. Origin sets are immutable and shared.
func (e *Entry) Clone() Entry {
	return Entry{
		Self:  e.Self,
		Attrs: maps.Clone(e.Attrs),
		Elems: slices.Clone(e.Elems),
		Items: maps.Clone(e.Items),
		Stamp: e.Stamp,
	}
}

// Lineage returns the union of every origin set the entry holds.
func (e *Entry) Lineage() origin.Set {
	sets := make([]origin.Set, 0, 1+len(e.Attrs)+len(e.Elems)+len(e.Items))
	sets = append(sets, e.Self)
	for _, s := range e.Attrs {
		sets = append(sets, s)
	}
	for _, c := range e.Elems {
		if c.Held {
			sets = append(sets, c.Origins)
		}
	}
	for _, s := range e.Items {
		sets = append(sets, s)
	}
	return origin.Union(sets...)
}
