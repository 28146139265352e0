// Package report renders the end-of-run provenance summary.
package report

import (
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/kolkov/taintflow/internal/taint/boundary"
	"github.com/kolkov/taintflow/internal/taint/origin"
	"github.com/kolkov/taintflow/internal/taint/shadow"
)

// Summary is a snapshot of one engine's activity.
type Summary struct {
	Enabled   bool
	Store     shadow.Stats
	Crossings boundary.Stats
	Mutations uint64

	// Lineages counts distinct non-empty origin sets across live entries.
	Lineages int
	// Origins counts distinct origins across live entries.
	Origins int
}

// Lineages scans the live entries of store and returns the number of
// distinct lineages and of distinct origins they reference.
//
// Sets are grouped by fingerprint; equal sets always share one.
func Lineages(store *shadow.Store) (lineages, origins int) {
	seen := make(map[uint64]struct{})
	ids := make(map[origin.Origin]struct{})
	store.Range(func(_ reflect.Type, e shadow.Entry) bool {
		set := e.Lineage()
		if set.IsEmpty() {
			return true
		}
		seen[set.Fingerprint()] = struct{}{}
		for _, o := range set.Slice() {
			ids[o] = struct{}{}
		}
		return true
	})
	return len(seen), len(ids)
}

// Write prints s in the banner format used on close.
func (s Summary) Write(w io.Writer) error {
	state := "enabled"
	if !s.Enabled {
		state = "disabled"
	}
	_, err := fmt.Fprintf(w, "\n"+
		"==================\n"+
		"Provenance Report\n"+
		"==================\n"+
		"tracking:      %s\n"+
		"live entries:  %d (created %d, evicted %d, untrackable %d)\n"+
		"recorded:      %d\n"+
		"crossings:     %d opaque, %d direct, %d deferred, %d async, %d failed\n"+
		"mutations:     %d\n"+
		"lineages:      %d distinct over %d origins\n"+
		"==================\n\n",
		state,
		s.Store.Live, s.Store.Created, s.Store.Evicted, s.Store.Untrackable,
		s.Store.Recorded,
		s.Crossings.Opaque, s.Crossings.Direct, s.Crossings.Deferred, s.Crossings.Async, s.Crossings.Failed,
		s.Mutations,
		s.Lineages, s.Origins)
	return err
}

// Open returns the writer named by output: "stderr", "stdout" or a file
// path, which is created or truncated. Closing a standard stream is a no-op.
func Open(output string) (io.WriteCloser, error) {
	switch output {
	case "", "stderr":
		return nopCloser{os.Stderr}, nil
	case "stdout":
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(output)
	if err != nil {
		return nil, fmt.Errorf("failed to open report output: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
