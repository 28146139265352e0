// Copyright 2025 The taintflow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package goid extracts the current goroutine ID.
//
// A goroutine is the unit of "logical task" for the engine: transfer channel
// slots and the shadow store's re-entrant lock are both keyed by it. The Go
// runtime never reuses goroutine IDs, so a new goroutine always starts with
// no engine state attached to it.
//
// The ID is parsed from the first line of runtime.Stack output:
//
//	goroutine 123 [running]:
//
// Performance: ~1-2µs per call. Acceptable here; provenance tracking favors
// correctness over speed.
package goid

import (
	"runtime"
	"strconv"
)

// Current returns the ID of the calling goroutine, or 0 if it cannot be
// determined.
func Current() int64 {
	// Only the first line is needed.
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

// parse extracts the goroutine ID from stack trace bytes.
//
// Expected format: "goroutine 123 [running]:..."
// Returns 0 if parsing fails.
func parse(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}
	buf = buf[len(prefix):]

	end := 0
	for end < len(buf) && buf[end] >= '0' && buf[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}

	id, err := strconv.ParseInt(string(buf[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
