// Copyright 2025 The taintflow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shadow implements the shadow provenance store.
//
// The store is a side table mapping each tracked runtime object to an Entry
// describing where its value came from. It never alters the objects
// themselves and holds no strong reference to them: when an object becomes
// unreachable its entry is evicted.
//
// # Overview
//
// For every tracked object the store keeps:
//   - Self: the origin set of the object as a whole
//   - Attrs: origin sets of attribute values that cannot carry an entry of
//     their own (strings, numbers, struct values)
//   - Elems / Items: per-element origin sets of a sequence or map collection,
//     kept parallel to the collection by the mutation handlers
//
// # Identity
//
// Entries are keyed by (address, dynamic type). The type component keeps a
// struct and its first field apart, since both live at the same address.
// Values without identity are boxed by package adapter before they are
// recorded; the box becomes the key.
//
// # Storage
//
// Entries live in an arena of slots addressed by stable uint32 handles, with
// a free list for reuse:
//
//	index: map[key]handle ──► slots[handle] { weak pointer, generation, Entry }
//
// Each slot holds a weak pointer to its object, checked on every lookup, and
// a runtime cleanup evicts the slot once the object is collected. Cleanups
// carry the slot generation, so a cleanup that fires after its slot was
// recycled is ignored.
//
// # Thread Safety
//
// All access is serialized by one re-entrant mutex keyed by goroutine. The
// callbacks given to View and Mutate run under that mutex and may call back
// into the store, but must not block on other goroutines.
//
// # Usage
//
//	s := shadow.New()
//	ref := s.Record("hello", origin.Of("A")) // returns the adapter boxing "hello"
//	s.OriginOf(ref)                          // {A}
package shadow
