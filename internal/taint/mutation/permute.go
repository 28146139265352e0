package mutation

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"sort"

	"github.com/kolkov/taintflow/internal/taint/shadow"
)

// Reorder permutes a sequence of n elements. It may only rearrange the
// sequence through swap; key returns the element currently at position i.
type Reorder func(n int, key func(i int) any, swap func(i, j int))

// Permute reorders coll with reorder, moving each element's provenance
// along with it.
//
// Every cell is tagged with its element's original position before reorder
// runs, and reorder runs without the store lock held. Afterwards the cells
// are rebuilt by following the tags, so provenance stays with its element
// whatever the permutation. If reorder panics the cells are still realigned with
// whatever order the collection was left in.
func (h *Handlers) Permute(coll any, reorder Reorder) error {
	s, err := sequence(coll)
	if err != nil {
		return fmt.Errorf("permute: %w", err)
	}
	n := s.len()

	var cells []shadow.Cell
	h.store.View(coll, func(e *shadow.Entry) {
		cells = make([]shadow.Cell, n)
		copy(cells, e.Elems)
	})

	elems := s.slice()
	tags := make([]int, n)
	for i := range tags {
		tags[i] = i
	}
	swapElems := reflect.Swapper(elems.Interface())

	defer func() {
		s.done()
		if cells == nil {
			return
		}
		h.store.Mutate(coll, func(e *shadow.Entry) {
			next := make([]shadow.Cell, n)
			for i, t := range tags {
				next[i] = cells[t]
			}
			e.Elems = next
		})
	}()

	reorder(n,
		func(i int) any { return elems.Index(i).Interface() },
		func(i, j int) {
			swapElems(i, j)
			tags[i], tags[j] = tags[j], tags[i]
		})
	h.applied.Add(1)
	return nil
}

// Sort sorts coll in place with less, stably. Provenance follows each
// element to its new position.
func (h *Handlers) Sort(coll any, less func(a, b any) bool) error {
	return h.Permute(coll, func(n int, key func(int) any, swap func(int, int)) {
		sort.Stable(sorter{n: n, key: key, swap: swap, less: less})
	})
}

// Reverse reverses coll in place.
func (h *Handlers) Reverse(coll any) error {
	return h.Permute(coll, func(n int, _ func(int) any, swap func(int, int)) {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			swap(i, j)
		}
	})
}

// Shuffle shuffles coll in place using rng, or the global source when rng
// is nil.
func (h *Handlers) Shuffle(coll any, rng *rand.Rand) error {
	return h.Permute(coll, func(n int, _ func(int) any, swap func(int, int)) {
		if rng == nil {
			rand.Shuffle(n, swap)
			return
		}
		rng.Shuffle(n, swap)
	})
}

// sorter adapts a Reorder's callbacks to sort.Interface.
type sorter struct {
	n    int
	key  func(int) any
	swap func(int, int)
	less func(a, b any) bool
}

func (s sorter) Len() int           { return s.n }
func (s sorter) Less(i, j int) bool { return s.less(s.key(i), s.key(j)) }
func (s sorter) Swap(i, j int)      { s.swap(i, j) }
