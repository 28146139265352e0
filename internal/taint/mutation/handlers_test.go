package mutation

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/taintflow/internal/taint/adapter"
	"github.com/kolkov/taintflow/internal/taint/origin"
	"github.com/kolkov/taintflow/internal/taint/shadow"
)

func newHandlers() (*Handlers, *shadow.Store) {
	s := shadow.New()
	return New(s), s
}

func originsAt(t *testing.T, h *Handlers, s *shadow.Store, coll, key any) origin.Set {
	t.Helper()
	v, err := h.Item(coll, key)
	require.NoError(t, err)
	return s.OriginOf(v)
}

// TestAppendSortDescending verifies provenance follows elements through a sort.
func TestAppendSortDescending(t *testing.T) {
	h, s := newHandlers()
	lst := s.Record([]string{}, origin.Set{})

	require.NoError(t, h.Append(lst, s.Record("x", origin.Of("n1"))))
	require.NoError(t, h.Append(lst, s.Record("y", origin.Of("n2"))))

	require.NoError(t, h.Sort(lst, func(a, b any) bool { return a.(string) > b.(string) }))

	assert.Equal(t, []string{"y", "x"}, adapter.Unwrap(lst))
	assert.True(t, originsAt(t, h, s, lst, 0).Equal(origin.Of("n2")))
	assert.True(t, originsAt(t, h, s, lst, 1).Equal(origin.Of("n1")))
}

// TestPermutationPreservation verifies every permutation keeps each element's origins.
func TestPermutationPreservation(t *testing.T) {
	words := []string{"delta", "alpha", "echo", "charlie", "bravo"}

	perms := map[string]func(h *Handlers, coll any) error{
		"sort": func(h *Handlers, coll any) error {
			return h.Sort(coll, func(a, b any) bool { return a.(string) < b.(string) })
		},
		"reverse": func(h *Handlers, coll any) error { return h.Reverse(coll) },
		"shuffle": func(h *Handlers, coll any) error {
			return h.Shuffle(coll, rand.New(rand.NewPCG(1, 2)))
		},
		"rotate": func(h *Handlers, coll any) error {
			return h.Permute(coll, func(n int, _ func(int) any, swap func(int, int)) {
				for i := 0; i < n-1; i++ {
					swap(i, i+1)
				}
			})
		},
	}

	for name, perm := range perms {
		t.Run(name, func(t *testing.T) {
			h, s := newHandlers()
			lst := s.Record([]string{}, origin.Set{})
			for _, w := range words {
				require.NoError(t, h.Append(lst, s.Record(w, origin.Of(origin.Origin("from-"+w)))))
			}

			require.NoError(t, perm(h, lst))

			got := adapter.Unwrap(lst).([]string)
			require.ElementsMatch(t, words, got)
			for i, w := range got {
				want := origin.Of(origin.Origin("from-" + w))
				assert.True(t, originsAt(t, h, s, lst, i).Equal(want), "element %q at %d", w, i)
			}
		})
	}
}

// TestPermutePanicRealigns verifies a panicking comparison leaves cells aligned.
func TestPermutePanicRealigns(t *testing.T) {
	h, s := newHandlers()
	lst := s.Record([]int{}, origin.Set{})
	for i := 0; i < 4; i++ {
		require.NoError(t, h.Append(lst, s.Record(i, origin.Of(origin.Origin(strings.Repeat("o", i+1))))))
	}

	assert.Panics(t, func() {
		_ = h.Permute(lst, func(n int, _ func(int) any, swap func(int, int)) {
			swap(0, 3)
			panic("comparison failed")
		})
	})

	got := adapter.Unwrap(lst).([]int)
	assert.Equal(t, []int{3, 1, 2, 0}, got)
	assert.True(t, originsAt(t, h, s, lst, 0).Equal(origin.Of("oooo")))
	assert.True(t, originsAt(t, h, s, lst, 3).Equal(origin.Of("o")))
}

// TestPositional verifies insert, pop, set index and clear keep cells aligned.
func TestPositional(t *testing.T) {
	h, s := newHandlers()
	lst := s.Record([]string{}, origin.Of("L"))

	require.NoError(t, h.Append(lst, s.Record("a", origin.Of("A")), s.Record("c", origin.Of("C"))))
	require.NoError(t, h.Insert(lst, 1, s.Record("b", origin.Of("B"))))
	assert.Equal(t, []string{"a", "b", "c"}, adapter.Unwrap(lst))
	assert.True(t, originsAt(t, h, s, lst, 1).Equal(origin.Of("B")))
	assert.True(t, originsAt(t, h, s, lst, 2).Equal(origin.Of("C")))

	require.NoError(t, h.SetIndex(lst, 0, s.Record("z", origin.Of("Z"))))
	assert.True(t, originsAt(t, h, s, lst, 0).Equal(origin.Of("Z")))

	v, err := h.Pop(lst, -1)
	require.NoError(t, err)
	assert.Equal(t, "c", adapter.Unwrap(v))
	assert.True(t, s.OriginOf(v).Equal(origin.Of("C")))

	v, err = h.Pop(lst, 0)
	require.NoError(t, err)
	assert.True(t, s.OriginOf(v).Equal(origin.Of("Z")))
	assert.Equal(t, []string{"b"}, adapter.Unwrap(lst))
	assert.True(t, originsAt(t, h, s, lst, 0).Equal(origin.Of("B")))

	require.NoError(t, h.Clear(lst))
	assert.Empty(t, adapter.Unwrap(lst))
	assert.True(t, s.OriginOf(lst).Equal(origin.Of("L")), "collection origins survive Clear")
}

// TestExtend verifies extended elements keep their lineage inside the source.
func TestExtend(t *testing.T) {
	h, s := newHandlers()
	dst := s.Record([]string{}, origin.Of("D"))

	src := s.Record([]string{}, origin.Of("S"))
	require.NoError(t, h.Append(src, s.Record("tagged", origin.Of("T"))))
	require.NoError(t, h.Extend(dst, src))
	require.NoError(t, h.Extend(dst, []string{"raw"}))

	assert.Equal(t, []string{"tagged", "raw"}, adapter.Unwrap(dst))
	assert.True(t, originsAt(t, h, s, dst, 0).Equal(origin.Of("T")))
	assert.True(t, originsAt(t, h, s, dst, 1).IsEmpty(), "untracked source contributes nothing")
}

// TestPreexistingElements verifies elements never seen by a handler fall back to the collection.
func TestPreexistingElements(t *testing.T) {
	h, s := newHandlers()
	lst := s.Record([]string{"old"}, origin.Of("L"))

	require.NoError(t, h.Append(lst, s.Record("new", origin.Of("N"))))
	assert.True(t, originsAt(t, h, s, lst, 0).Equal(origin.Of("L")))
	assert.True(t, originsAt(t, h, s, lst, 1).Equal(origin.Of("N")))
}

type node struct {
	Name string
	Next *node
}

// TestReferenceableElements verifies pointer elements carry their own entry.
func TestReferenceableElements(t *testing.T) {
	h, s := newHandlers()
	nodes := []*node{}
	n := &node{Name: "n"}
	s.Record(n, origin.Of("N"))

	require.NoError(t, h.Append(&nodes, n))
	require.Len(t, nodes, 1)

	v, err := h.Item(&nodes, 0)
	require.NoError(t, err)
	assert.Same(t, n, v)

	s.Record(n, origin.Of("N2"))
	assert.True(t, originsAt(t, h, s, &nodes, 0).Equal(origin.Of("N2")), "the element's own entry is authoritative")
}

// TestKeyed verifies key-based handlers.
func TestKeyed(t *testing.T) {
	h, s := newHandlers()
	m := s.Record(map[string]string{}, origin.Of("M"))

	require.NoError(t, h.SetKey(m, "a", s.Record("1", origin.Of("A"))))
	require.NoError(t, h.Update(m, map[string]string{"b": "2"}))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, adapter.Unwrap(m))
	assert.True(t, originsAt(t, h, s, m, "a").Equal(origin.Of("A")))
	assert.True(t, originsAt(t, h, s, m, "b").IsEmpty())

	src := s.Record(map[string]string{"c": "3"}, origin.Of("S"))
	require.NoError(t, h.Update(m, src))
	assert.True(t, originsAt(t, h, s, m, "c").Equal(origin.Of("S")))

	v, err := h.PopKey(m, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", adapter.Unwrap(v))
	assert.True(t, s.OriginOf(v).Equal(origin.Of("A")))

	_, err = h.PopKey(m, "a")
	var ke *KeyError
	require.True(t, errors.As(err, &ke))
	assert.Equal(t, "a", ke.Key)

	require.NoError(t, h.DeleteKey(m, "missing"))
	require.NoError(t, h.DeleteKey(m, "b"))
	require.NoError(t, h.ClearKeys(m))
	assert.Empty(t, adapter.Unwrap(m))

	snap, ok := s.Snapshot(m)
	require.True(t, ok)
	assert.Empty(t, snap.Items)
	assert.True(t, snap.Self.Equal(origin.Of("M")))
}

// TestNilMapAllocated verifies a nil map behind a pointer is allocated on first store.
func TestNilMapAllocated(t *testing.T) {
	h, _ := newHandlers()
	var m map[string]int

	require.NoError(t, h.SetKey(&m, "k", 1))
	assert.Equal(t, map[string]int{"k": 1}, m)

	var raw map[string]int
	assert.ErrorIs(t, h.SetKey(raw, "k", 1), ErrNilMap)
}

// TestUntrackedCollections verifies mutations still happen without bookkeeping.
func TestUntrackedCollections(t *testing.T) {
	h, s := newHandlers()

	raw := map[string]int{}
	require.NoError(t, h.SetKey(raw, "k", s.Record(7, origin.Of("A"))))
	assert.Equal(t, 7, raw["k"])

	bare := []int{3, 1, 2}
	require.NoError(t, h.Sort(bare, func(a, b any) bool { return a.(int) < b.(int) }))
	assert.Equal(t, []int{1, 2, 3}, bare)

	s.Disable()
	lst := []int{}
	require.NoError(t, h.Append(&lst, 1))
	assert.Equal(t, []int{1}, lst)
}

// TestFailuresLeaveCollectionUnchanged verifies validation happens before mutation.
func TestFailuresLeaveCollectionUnchanged(t *testing.T) {
	h, s := newHandlers()
	lst := s.Record([]int{1, 2}, origin.Of("L"))

	err := h.Append(lst, 3, "four")
	assert.ErrorIs(t, err, adapter.ErrTypeMismatch)
	assert.Equal(t, []int{1, 2}, adapter.Unwrap(lst))

	var ie *IndexError
	require.True(t, errors.As(h.Insert(lst, 5, 0), &ie))
	assert.Equal(t, 2, ie.Len)
	require.True(t, errors.As(h.SetIndex(lst, -1, 0), &ie))
	_, err = h.Pop(lst, 2)
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, []int{1, 2}, adapter.Unwrap(lst))

	snap, _ := s.Snapshot(lst)
	assert.LessOrEqual(t, len(snap.Elems), 2)

	assert.ErrorIs(t, h.Append(s.Record(5, origin.Set{}), 1), ErrNotSequence)
	assert.ErrorIs(t, h.SetKey(lst, "k", 1), ErrNotMap)
	assert.ErrorIs(t, h.Append([]int{}, 1), ErrFixedSize)

	arr := [2]int{2, 1}
	assert.ErrorIs(t, h.Append(&arr, 3), ErrFixedSize)
	require.NoError(t, h.Reverse(&arr))
	assert.Equal(t, [2]int{1, 2}, arr)
}

// TestOrigins verifies the per-element origin listing.
func TestOrigins(t *testing.T) {
	h, s := newHandlers()
	lst := s.Record([]string{"pre"}, origin.Of("L"))
	require.NoError(t, h.Append(lst, s.Record("x", origin.Of("X"))))

	sets, err := h.Origins(lst)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.True(t, sets[0].Equal(origin.Of("L")))
	assert.True(t, sets[1].Equal(origin.Of("X")))
}

// TestApplied verifies only successful mutations are counted.
func TestApplied(t *testing.T) {
	h, s := newHandlers()
	lst := s.Record([]int{3, 1, 2}, origin.Of("L"))

	require.NoError(t, h.Append(lst, 4))
	require.Error(t, h.Insert(lst, 9, 0))
	require.NoError(t, h.Reverse(lst))
	require.Error(t, h.Reverse(s.Record(5, origin.Set{})))

	assert.Equal(t, uint64(2), h.Applied())
}

// TestExtendUnwrapsBoxedElements verifies boxed source elements never reach the collection.
func TestExtendUnwrapsBoxedElements(t *testing.T) {
	h, s := newHandlers()
	lst := s.Record([]any{}, origin.Set{})

	require.NoError(t, h.Extend(lst, []any{s.Record("x", origin.Of("n1")), "plain"}))
	require.NoError(t, h.Extend(lst, s.Record([]any{s.Record("z", origin.Of("n3"))}, origin.Of("S2"))))

	raw := adapter.Unwrap(lst).([]any)
	assert.Equal(t, []any{"x", "plain", "z"}, raw)
	for i, v := range raw {
		assert.False(t, adapter.IsRef(v), "element %d is boxed", i)
	}

	sets, err := h.Origins(lst)
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.True(t, sets[0].Equal(origin.Of("n1")), "got %v", sets[0])
	assert.True(t, sets[1].IsEmpty())
	assert.True(t, sets[2].Equal(origin.Of("n3")), "boxed element wins over the source's origins")
	assert.True(t, originsAt(t, h, s, lst, 0).Equal(origin.Of("n1")))
}

// TestUpdateUnwrapsBoxedValues verifies boxed keys and values never reach the map.
func TestUpdateUnwrapsBoxedValues(t *testing.T) {
	h, s := newHandlers()
	m := s.Record(map[string]any{}, origin.Set{})

	require.NoError(t, h.Update(m, map[string]any{"k": s.Record("y", origin.Of("n2"))}))
	require.NoError(t, h.Update(m, map[any]any{s.Record("boxed", origin.Of("K")): "v"}))

	raw := adapter.Unwrap(m).(map[string]any)
	assert.Equal(t, map[string]any{"k": "y", "boxed": "v"}, raw)
	for k, v := range raw {
		assert.False(t, adapter.IsRef(v), "value of %q is boxed", k)
	}
	assert.True(t, originsAt(t, h, s, m, "k").Equal(origin.Of("n2")))
	assert.True(t, originsAt(t, h, s, m, "boxed").IsEmpty())
}
