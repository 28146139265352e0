package goid

import (
	"sync"
	"testing"
)

// TestParse verifies parsing of runtime.Stack headers.
func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{"running", "goroutine 1 [running]:\nmain.main()", 1},
		{"large", "goroutine 987654 [running]:", 987654},
		{"empty", "", 0},
		{"short", "gorout", 0},
		{"wrong prefix", "thread 12 [running]:", 0},
		{"no digits", "goroutine [running]:", 0},
		{"overflow", "goroutine 99999999999999999999 [running]:", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parse([]byte(tt.in)); got != tt.want {
				t.Errorf("parse(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

// TestCurrentStable verifies the ID is stable within one goroutine.
func TestCurrentStable(t *testing.T) {
	a, b := Current(), Current()
	if a == 0 {
		t.Fatal("Current() returned 0")
	}
	if a != b {
		t.Errorf("Current() changed within one goroutine: %d then %d", a, b)
	}
}

// TestCurrentDistinct verifies concurrent goroutines see distinct IDs.
func TestCurrentDistinct(t *testing.T) {
	const n = 32
	ids := make([]int64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = Current()
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, id := range ids {
		if id == 0 {
			t.Fatal("Current() returned 0 in a goroutine")
		}
		if seen[id] {
			t.Errorf("duplicate goroutine ID %d", id)
		}
		seen[id] = true
	}
	t.Logf("collected %d distinct goroutine IDs", len(seen))
}
