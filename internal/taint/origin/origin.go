// Package origin implements origin identifiers and immutable origin sets.
//
// An Origin names the upstream call (an LLM or tool invocation) that produced
// a value. A value may carry several origins at once; they are kept in a Set,
// where order is irrelevant and duplicates collapse.
//
// Set is a value type: every operation returns a new Set and never mutates
// its receiver, so sets can be shared freely between shadow entries,
// goroutines and transfer channel slots without copying.
//
// Example:
//
//	a := origin.Of("llm-1")
//	b := origin.Of("tool-7", "llm-1")
//	u := a.Union(b) // {llm-1, tool-7}
package origin

import (
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/highwayhash"
)

// Origin is an opaque identifier of an upstream call.
//
// Origins are immutable and comparable. Interceptors typically mint one per
// intercepted call with New; any non-empty string is a valid Origin.
type Origin string

// New returns a fresh, globally unique origin (a random UUID).
func New() Origin {
	return Origin(uuid.NewString())
}

// String returns the identifier text.
func (o Origin) String() string {
	return string(o)
}

// Set is an immutable set of origins.
//
// Internally the origins are kept sorted and unique, which makes Equal,
// Contains and Fingerprint deterministic. The zero value is the empty set.
type Set struct {
	ids []Origin
}

// Of builds a set from the given origins. Empty identifiers are dropped.
func Of(ids ...Origin) Set {
	if len(ids) == 0 {
		return Set{}
	}
	out := make([]Origin, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return normalize(out)
}

// FromStrings builds a set from plain strings.
func FromStrings(ids ...string) Set {
	out := make([]Origin, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, Origin(id))
		}
	}
	return normalize(out)
}

// Union returns the union of all given sets.
func Union(sets ...Set) Set {
	n, nonEmpty, last := 0, 0, 0
	for i, s := range sets {
		if len(s.ids) > 0 {
			n += len(s.ids)
			nonEmpty++
			last = i
		}
	}
	switch nonEmpty {
	case 0:
		return Set{}
	case 1:
		// A single non-empty input is already normalized.
		return sets[last]
	}
	out := make([]Origin, 0, n)
	for _, s := range sets {
		out = append(out, s.ids...)
	}
	return normalize(out)
}

func normalize(ids []Origin) Set {
	if len(ids) == 0 {
		return Set{}
	}
	slices.Sort(ids)
	return Set{ids: slices.Compact(ids)}
}

// Union returns s ∪ others.
func (s Set) Union(others ...Set) Set {
	return Union(append([]Set{s}, others...)...)
}

// Add returns s with the given origins added.
func (s Set) Add(ids ...Origin) Set {
	return s.Union(Of(ids...))
}

// Len returns the number of distinct origins.
func (s Set) Len() int {
	return len(s.ids)
}

// IsEmpty reports whether the set has no origins.
func (s Set) IsEmpty() bool {
	return len(s.ids) == 0
}

// Contains reports whether o is a member of s.
func (s Set) Contains(o Origin) bool {
	_, ok := slices.BinarySearch(s.ids, o)
	return ok
}

// Equal reports whether s and t hold exactly the same origins.
func (s Set) Equal(t Set) bool {
	return slices.Equal(s.ids, t.ids)
}

// Slice returns the origins in sorted order. The result is a copy.
func (s Set) Slice() []Origin {
	return slices.Clone(s.ids)
}

// Strings returns the origins as sorted plain strings.
func (s Set) Strings() []string {
	out := make([]string, len(s.ids))
	for i, id := range s.ids {
		out[i] = string(id)
	}
	return out
}

// String formats the set as "{a, b, c}".
func (s Set) String() string {
	return "{" + strings.Join(s.Strings(), ", ") + "}"
}

// fingerprintKey is the fixed 32-byte HighwayHash key. Fingerprints only
// need to be stable within one process, not secret.
var fingerprintKey = []byte("taintflow-origin-set-fingerprint")

// Fingerprint returns a 64-bit hash of the set contents.
//
// Equal sets always produce equal fingerprints, which lets consumers group
// values by lineage without comparing sets pairwise. The empty set hashes
// to 0.
func (s Set) Fingerprint() uint64 {
	if len(s.ids) == 0 {
		return 0
	}
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		// Only returned for a key of the wrong length.
		panic(err)
	}
	for _, id := range s.ids {
		_, _ = h.Write([]byte(id))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
