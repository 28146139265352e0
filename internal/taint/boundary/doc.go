// Copyright 2025 The taintflow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package boundary implements the boundary-crossing protocol: the contract
// used whenever monitored code calls code that was not instrumented.
//
// # State Machine
//
// Every crossing runs:
//
//	ENTER ─┬─ user code ──► direct call, no bookkeeping
//	       └─ opaque code ─► COLLECT ─► ACTIVATE ─► INVOKE ─► TAG ─► DEACTIVATE
//
//   - COLLECT: union the origins of the receiver, every positional argument
//     and every keyword argument.
//   - ACTIVATE: open a transfer channel slot holding the union. Arguments of
//     type context.Context are rebound to the slot so the target, and
//     anything it starts with that context, observes it.
//   - INVOKE: erase every adapter and call the target.
//   - TAG: record each non-error result with the union. Results the target
//     already recorded during INVOKE keep their own origins. Awaitable
//     results are wrapped in a Deferred that tags at resolution.
//   - DEACTIVATE: close the slot. Deferred, so it runs on return, error,
//     panic and cancellation alike.
//
// Errors returned by the target and panics raised by it reach the caller
// unchanged.
//
// # User Code
//
// A target is user code when it was registered with MarkInstrumented or
// lives in a monitored package. User code is called directly: it does its
// own bookkeeping. Adapters reach it wherever its parameter types can hold
// them.
//
// # Asynchronous Calls
//
// CrossAsync runs a crossing on a new goroutine whose channel starts empty
// and returns a Future. Tagging happens when the call completes, on that
// goroutine, under that crossing's own slot.
package boundary
