// Package adapter gives identity to values that cannot serve as weak keys.
//
// The shadow store keys entries by object identity, and in Go only pointers
// have one: a string, an int, a slice header or a map value is copied on
// every assignment. Such values are boxed in a *Ref before they are recorded,
// and the Ref becomes the identity the store keys on.
//
// # Value categories
//
//   - PassThrough: nil, booleans, functions, reflect.Type values,
//     unsafe.Pointer and typed nil pointers. Returned unchanged and never
//     tracked; they are not meaningfully taintable.
//   - Referenceable: non-nil pointers to values of non-zero size, and Refs.
//     Keyed directly.
//   - Adaptable: everything else. Boxed in a Ref.
//
// # Invariants
//
//   - A Ref never wraps another Ref.
//   - A Ref carries no provenance of its own; the shadow entry keyed by the
//     Ref does.
//   - Refs are erased (Unwrap) before any boundary crossing and before any
//     store into an attribute or collection. Only engine and rewriter code
//     ever observes one.
package adapter

import (
	"reflect"
	"unsafe"
)

// Kind classifies a value for identity keying.
type Kind int

const (
	// PassThrough values are returned unchanged and never tracked.
	PassThrough Kind = iota
	// Referenceable values have identity and are keyed directly.
	Referenceable
	// Adaptable values need a Ref to be keyed.
	Adaptable
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case PassThrough:
		return "pass-through"
	case Referenceable:
		return "referenceable"
	case Adaptable:
		return "adaptable"
	default:
		return "unknown"
	}
}

// Classify reports which category v belongs to.
func Classify(v any) Kind {
	switch v.(type) {
	case nil, bool:
		return PassThrough
	case *Ref:
		return Referenceable
	case reflect.Type:
		return PassThrough
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool, reflect.Func, reflect.UnsafePointer:
		return PassThrough
	case reflect.Pointer:
		if rv.IsNil() {
			return PassThrough
		}
		// Zero-size values share one address; their pointers carry no identity.
		if rv.Type().Elem().Size() == 0 {
			return Adaptable
		}
		return Referenceable
	default:
		return Adaptable
	}
}

// WrapIfNeeded returns a trackable form of v.
//
// Referenceable values come back unchanged, adaptable values are boxed in a
// new Ref, and pass-through values come back unchanged with ok == false.
func WrapIfNeeded(v any) (trackable any, ok bool) {
	switch Classify(v) {
	case Referenceable:
		return v, true
	case Adaptable:
		return &Ref{v: v}, true
	default:
		return v, false
	}
}

// Wrap boxes v unconditionally unless it already is a Ref.
// Used by collection code that needs a stable handle for a slice.
func Wrap(v any) *Ref {
	if r, ok := v.(*Ref); ok {
		return r
	}
	return &Ref{v: v}
}

// Unwrap returns the value held by a Ref, or v itself.
func Unwrap(v any) any {
	if r, ok := v.(*Ref); ok {
		return r.v
	}
	return v
}

// UnwrapAll returns a copy of vs with every Ref erased.
func UnwrapAll(vs []any) []any {
	if vs == nil {
		return nil
	}
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = Unwrap(v)
	}
	return out
}

// IsRef reports whether v is an adapter.
func IsRef(v any) bool {
	_, ok := v.(*Ref)
	return ok
}

// Identity returns the address and dynamic type that identify a
// referenceable value. ok is false for every other category.
//
// The (address, type) pair distinguishes a struct from its first field,
// which share an address.
func Identity(v any) (ptr unsafe.Pointer, typ reflect.Type, ok bool) {
	if Classify(v) != Referenceable {
		return nil, nil, false
	}
	rv := reflect.ValueOf(v)
	return rv.UnsafePointer(), rv.Type(), true
}
