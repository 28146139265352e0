package shadow

import (
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"
	"unsafe"
	"weak"

	"go.uber.org/zap"

	"github.com/kolkov/taintflow/internal/taint/adapter"
	"github.com/kolkov/taintflow/internal/taint/origin"
)

// key identifies a tracked object.
type key struct {
	addr uintptr
	typ  reflect.Type
}

// slot is one arena cell. Slots are heap-allocated individually so an
// *Entry handed to a callback stays valid while the arena grows.
type slot struct {
	live  bool
	gen   uint32
	key   key
	ptr   weak.Pointer[byte]
	entry Entry
}

// slotRef is the argument of an eviction cleanup.
type slotRef struct {
	h   uint32
	gen uint32
}

// Stats is a point-in-time view of store activity.
type Stats struct {
	Live        int    // entries currently held
	Created     uint64 // entries ever created
	Recorded    uint64 // Record calls that wrote an entry
	Evicted     uint64 // entries dropped because their object died
	Untrackable uint64 // objects whose identity could not be keyed
}

// Store is the shadow provenance store.
//
// The zero value is not usable; create one with New.
type Store struct {
	mu    rmutex
	index map[key]uint32
	slots []*slot
	free  []uint32
	stats Stats
	clock uint64

	disabled atomic.Bool
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for degradation diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty, enabled store.
func New(opts ...Option) *Store {
	s := &Store{
		index:  make(map[key]uint32),
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record sets the self origins of obj and returns its trackable form.
//
// Referenceable objects come back unchanged. Adaptable values are boxed and
// the box is returned; the caller must use the box from then on. Pass-through
// values are returned unchanged and not tracked.
//
// Record overwrites Self and leaves attribute and element lineage alone.
func (s *Store) Record(obj any, set origin.Set) any {
	if !s.Enabled() {
		return obj
	}
	ref, ok := adapter.WrapIfNeeded(obj)
	if !ok {
		return obj
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.entry(ref, true); e != nil {
		s.clock++
		e.Self = set
		e.Stamp = s.clock
		s.stats.Recorded++
	}
	return ref
}

// Track returns the trackable form of obj and ensures it has an entry,
// without touching any recorded origins. ok is false for pass-through values
// and objects that cannot be keyed.
func (s *Store) Track(obj any) (ref any, ok bool) {
	if !s.Enabled() {
		return obj, false
	}
	ref, ok = adapter.WrapIfNeeded(obj)
	if !ok {
		return obj, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return ref, s.entry(ref, true) != nil
}

// OriginOf returns the self origins of obj, or the empty set when obj has
// no entry. It never fails.
func (s *Store) OriginOf(obj any) origin.Set {
	set, _ := s.Lookup(obj)
	return set
}

// Lookup is like OriginOf but also reports whether obj has an entry.
func (s *Store) Lookup(obj any) (origin.Set, bool) {
	var set origin.Set
	ok := s.View(obj, func(e *Entry) { set = e.Self })
	return set, ok
}

// View runs fn on the entry of obj, if there is one, and reports whether fn
// ran. fn must not modify the entry.
func (s *Store) View(obj any, fn func(e *Entry)) bool {
	if !s.Enabled() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(obj, false)
	if e == nil {
		return false
	}
	fn(e)
	return true
}

// Mutate runs fn on the entry of obj, creating the entry first if needed,
// and reports whether fn ran. obj must already be in trackable form: Mutate
// never boxes a value, since the caller would have no way to reach the box.
func (s *Store) Mutate(obj any, fn func(e *Entry)) bool {
	if !s.Enabled() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(obj, true)
	if e == nil {
		return false
	}
	fn(e)
	return true
}

// Snapshot returns a copy of the entry of obj.
func (s *Store) Snapshot(obj any) (Entry, bool) {
	var snap Entry
	ok := s.View(obj, func(e *Entry) { snap = e.Clone() })
	return snap, ok
}

// Range calls fn with a copy of every live entry and the dynamic type of
// its object, until fn returns false. fn runs without the store lock held.
func (s *Store) Range(fn func(typ reflect.Type, e Entry) bool) {
	type item struct {
		typ reflect.Type
		e   Entry
	}

	s.mu.Lock()
	items := make([]item, 0, len(s.index))
	for _, h := range s.index {
		sl := s.slots[h]
		if sl.ptr.Value() == nil {
			continue
		}
		items = append(items, item{sl.key.typ, sl.entry.Clone()})
	}
	s.mu.Unlock()

	for _, it := range items {
		if !fn(it.typ, it.e) {
			return
		}
	}
}

// Clock returns the store clock: the number of Record calls that wrote an
// entry since the store was created. Comparing an entry's Stamp with a
// clock value read earlier tells whether the object was recorded since.
func (s *Store) Clock() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Len returns the number of entries held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Live = len(s.index)
	return st
}

// Reset drops every entry and zeroes the counters. Pending eviction
// cleanups for dropped entries become no-ops.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, sl := range s.slots {
		if sl.live {
			s.release(uint32(h))
		}
	}
	clear(s.index)
	s.stats = Stats{}
}

// Enable turns recording back on after Disable.
func (s *Store) Enable() { s.disabled.Store(false) }

// Disable makes every operation a no-op: nothing is recorded and every
// lookup reports no provenance. Existing entries are kept.
func (s *Store) Disable() { s.disabled.Store(true) }

// Enabled reports whether the store is recording.
func (s *Store) Enabled() bool { return !s.disabled.Load() }

// entry returns the entry of obj, creating it when create is set.
// Returns nil for objects without identity. Requires s.mu.
func (s *Store) entry(obj any, create bool) *Entry {
	ptr, typ, ok := adapter.Identity(obj)
	if !ok {
		return nil
	}
	k := key{addr: uintptr(ptr), typ: typ}

	if h, ok := s.index[k]; ok {
		sl := s.slots[h]
		if sl.ptr.Value() != nil {
			return &sl.entry
		}
		// Collected, cleanup not run yet. The address now belongs to obj.
		s.release(h)
		s.stats.Evicted++
	}
	if !create {
		return nil
	}
	return s.insert(k, ptr)
}

// insert creates the entry for k. Requires s.mu.
func (s *Store) insert(k key, ptr unsafe.Pointer) *Entry {
	h := s.alloc()
	sl := s.slots[h]
	if err := s.register(sl, h, ptr); err != nil {
		s.release(h)
		s.stats.Untrackable++
		s.logger.Debug("object not trackable",
			zap.Stringer("type", k.typ),
			zap.Error(err))
		return nil
	}

	sl.live = true
	sl.key = k
	s.index[k] = h
	s.stats.Created++
	return &sl.entry
}

// register attaches the weak pointer and eviction cleanup to sl.
// The runtime panics for pointers it cannot track; those are reported as
// errors.
func (s *Store) register(sl *slot, h uint32, ptr unsafe.Pointer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shadow: cannot key object: %v", r)
		}
	}()

	p := (*byte)(ptr)
	sl.ptr = weak.Make(p)
	runtime.AddCleanup(p, s.evict, slotRef{h: h, gen: sl.gen})
	return nil
}

// evict is the cleanup run after a tracked object is collected.
func (s *Store) evict(ref slotRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(ref.h) >= len(s.slots) {
		return
	}
	sl := s.slots[ref.h]
	if !sl.live || sl.gen != ref.gen {
		return
	}
	s.release(ref.h)
	s.stats.Evicted++
}

// alloc returns a free slot handle. Requires s.mu.
func (s *Store) alloc() uint32 {
	if n := len(s.free); n > 0 {
		h := s.free[n-1]
		s.free = s.free[:n-1]
		return h
	}
	s.slots = append(s.slots, &slot{})
	return uint32(len(s.slots) - 1)
}

// release returns slot h to the free list and bumps its generation.
// Requires s.mu.
func (s *Store) release(h uint32) {
	sl := s.slots[h]
	if sl.live {
		delete(s.index, sl.key)
	}
	*sl = slot{gen: sl.gen + 1}
	s.free = append(s.free, h)
}
