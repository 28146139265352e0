package shadow

import (
	"fmt"
	"reflect"
	"runtime"
	"testing"
	"time"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/taintflow/internal/taint/adapter"
	"github.com/kolkov/taintflow/internal/taint/origin"
)

type doc struct {
	Title string
	Body  []byte
}

// TestRecordRoundTrip verifies OriginOf returns what Record stored.
func TestRecordRoundTrip(t *testing.T) {
	s := New()
	d := &doc{Title: "t"}

	got := s.Record(d, origin.Of("A", "B"))
	assert.Same(t, d, got, "referenceable objects are returned unchanged")
	assert.True(t, s.OriginOf(d).Equal(origin.Of("A", "B")))

	before := s.Clock()
	s.Record(d, origin.Of("A"))
	snap, _ := s.Snapshot(d)
	assert.Greater(t, snap.Stamp, before, "Record advances the entry stamp")

	ref := s.Record("hello", origin.Of("C"))
	require.True(t, adapter.IsRef(ref))
	assert.True(t, s.OriginOf(ref).Equal(origin.Of("C")))
	assert.True(t, s.OriginOf("hello").IsEmpty(), "a raw value has no identity")
}

// TestRecordOverwrites verifies Record replaces Self and keeps attribute lineage.
func TestRecordOverwrites(t *testing.T) {
	s := New()
	d := &doc{}

	s.Record(d, origin.Of("A"))
	s.Mutate(d, func(e *Entry) { e.SetAttr("Title", origin.Of("T")) })
	s.Record(d, origin.Of("B"))

	snap, ok := s.Snapshot(d)
	require.True(t, ok)
	want := Entry{
		Self:  origin.Of("B"),
		Attrs: map[string]origin.Set{"Title": origin.Of("T")},
	}
	if diff := cmp.Diff(want, snap,
		cmp.Comparer(origin.Set.Equal),
		cmpopts.IgnoreFields(Entry{}, "Stamp")); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

// TestPassThrough verifies untrackable values are returned unchanged.
func TestPassThrough(t *testing.T) {
	s := New()
	var nilDoc *doc

	for _, v := range []any{nil, true, nilDoc} {
		got := s.Record(v, origin.Of("A"))
		assert.Equal(t, v, got)
		assert.True(t, s.OriginOf(got).IsEmpty())
	}
	assert.Equal(t, 0, s.Len())
}

// TestIdentityByType verifies a struct and its first field get distinct entries.
func TestIdentityByType(t *testing.T) {
	s := New()
	d := &doc{}

	s.Record(d, origin.Of("whole"))
	s.Record(&d.Title, origin.Of("field"))

	assert.True(t, s.OriginOf(d).Equal(origin.Of("whole")))
	assert.True(t, s.OriginOf(&d.Title).Equal(origin.Of("field")))
	assert.Equal(t, 2, s.Len())
}

// TestViewMissing verifies View does not create entries.
func TestViewMissing(t *testing.T) {
	s := New()
	d := &doc{}

	ran := s.View(d, func(*Entry) { t.Fatal("callback ran for missing entry") })
	assert.False(t, ran)
	_, ok := s.Lookup(d)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

// TestMutateReentrant verifies callbacks may call back into the store.
func TestMutateReentrant(t *testing.T) {
	s := New()
	parent := &doc{}
	var child any

	ok := s.Mutate(parent, func(e *Entry) {
		// Creating another entry may grow the arena; e must stay valid.
		for i := 0; i < 64; i++ {
			child = s.Record(i, origin.Of("C"))
		}
		e.Self = s.OriginOf(child)
	})
	require.True(t, ok)
	assert.True(t, s.OriginOf(parent).Equal(origin.Of("C")))
}

// TestMutateRawValue verifies values without identity are refused.
func TestMutateRawValue(t *testing.T) {
	s := New()
	assert.False(t, s.Mutate([]int{1}, func(*Entry) {}))
}

// TestSnapshotIsolation verifies snapshots do not alias the stored entry.
func TestSnapshotIsolation(t *testing.T) {
	s := New()
	d := &doc{}
	s.Mutate(d, func(e *Entry) { e.Elems = []Cell{Held(origin.Of("A"))} })

	snap, _ := s.Snapshot(d)
	snap.Elems[0] = Held(origin.Of("Z"))

	again, _ := s.Snapshot(d)
	assert.True(t, again.Elems[0].Origins.Equal(origin.Of("A")))
}

// TestDisable verifies a disabled store records nothing.
func TestDisable(t *testing.T) {
	s := New()
	s.Disable()
	require.False(t, s.Enabled())

	got := s.Record("x", origin.Of("A"))
	assert.Equal(t, "x", got)
	assert.Equal(t, 0, s.Len())

	s.Enable()
	d := &doc{}
	s.Record(d, origin.Of("A"))
	assert.Equal(t, 1, s.Len())
}

// TestReset verifies Reset drops entries and stale cleanups are ignored.
func TestReset(t *testing.T) {
	s := New()
	d := &doc{}
	s.Record(d, origin.Of("A"))
	h := s.index[key{addr: uintptr(unsafe.Pointer(d)), typ: reflect.TypeOf(d)}]
	oldGen := s.slots[h].gen

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.OriginOf(d).IsEmpty())

	// The recycled slot must survive the old object's cleanup.
	other := &doc{}
	s.Record(other, origin.Of("B"))
	s.evict(slotRef{h: h, gen: oldGen})
	assert.True(t, s.OriginOf(other).Equal(origin.Of("B")))
}

// TestEvictAfterGC verifies entries disappear with their objects.
func TestEvictAfterGC(t *testing.T) {
	s := New()

	func() {
		d := &doc{Title: "gone", Body: make([]byte, 128)}
		s.Record(d, origin.Of("A"))
		s.Record("boxed value", origin.Of("B"))
	}()
	require.Equal(t, 2, s.Len())

	require.Eventually(t, func() bool {
		runtime.GC()
		return s.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), s.Stats().Evicted)
}

// TestRange verifies Range visits every live entry.
func TestRange(t *testing.T) {
	s := New()
	a, b := &doc{}, &doc{}
	s.Record(a, origin.Of("A"))
	s.Record(b, origin.Of("B"))

	var all []origin.Set
	s.Range(func(_ reflect.Type, e Entry) bool {
		all = append(all, e.Self)
		return true
	})
	assert.True(t, origin.Union(all...).Equal(origin.Of("A", "B")))

	count := 0
	s.Range(func(reflect.Type, Entry) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

// TestConcurrentRecord verifies the store under parallel use.
func TestConcurrentRecord(t *testing.T) {
	s := New()
	const workers, perWorker = 8, 200

	docs := make([]*doc, workers*perWorker)
	for i := range docs {
		docs[i] = &doc{}
	}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := w * perWorker; i < (w+1)*perWorker; i++ {
				s.Record(docs[i], origin.Of(origin.Origin(fmt.Sprintf("w%d", w))))
				s.Mutate(docs[i], func(e *Entry) {
					e.SetAttr("Title", s.OriginOf(docs[i]))
				})
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, len(docs), s.Len())
	st := s.Stats()
	assert.Equal(t, uint64(len(docs)), st.Created)
	assert.Equal(t, uint64(len(docs)), st.Recorded)
}
