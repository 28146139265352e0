// Copyright 2025 The taintflow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package taint provides the runtime API of the taintflow provenance engine.
//
// taintflow tracks which upstream LLM or tool calls every value in a program
// was derived from. Each value carries a set of origins; the engine keeps
// those sets in a shadow table keyed by object identity, so the monitored
// program's own types are never changed.
//
// # Quick Start
//
// Calls into this package are normally emitted by a program rewriter. For
// manual use:
//
//	package main
//
//	import (
//		"context"
//		"strings"
//
//		"github.com/kolkov/taintflow/taint"
//	)
//
//	func main() {
//		e, _ := taint.New()
//		defer e.Close()
//
//		prompt := e.Record("hello", taint.Of("llm-1"))
//		upper, _ := e.Call1(context.Background(), taint.Call{
//			Fn:   strings.ToUpper,
//			Args: []any{prompt},
//		})
//		_ = e.OriginOf(upper) // {llm-1}
//	}
//
// # API Overview
//
// The Engine methods form a closed set of operations:
//   - Recording and lookup: [Engine.Record], [Engine.OriginOf]
//   - Attributes: [Engine.Get], [Engine.Set], [Engine.AttributeOriginOf]
//   - Boundary crossings: [Engine.Call], [Engine.Call1], [Engine.CallAsync]
//   - Collections: [Engine.Append], [Engine.SetKey], [Engine.Sort] and the
//     other mutation handlers, plus [Engine.Item]
//   - Interceptors: [Engine.Active]
//   - Lifecycle: [New], [Engine.Close], [Init], [Fini]
//
// # Values Without Identity
//
// Strings, numbers, slices and other values that Go copies on assignment
// are returned boxed by Record. The box must replace the raw value in the
// monitored program; the engine unboxes it again before any uninstrumented
// code sees it.
//
// # Boundary Crossings
//
// A call into uninstrumented code collects the origins of its receiver and
// arguments, exposes their union to interceptors through [Engine.Active]
// while the call runs, and tags every result with it. Calls into monitored
// packages run directly; they do their own bookkeeping.
//
// # Configuration
//
// [Init] and the taintflow CLI read taintflow.yaml; environment variables
// TAINTFLOW_ENABLED, TAINTFLOW_LOG_LEVEL, TAINTFLOW_MONITORED and
// TAINTFLOW_REPORT override the file.
package taint
