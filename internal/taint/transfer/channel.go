// Package transfer implements the transfer channel: the task-scoped slot
// that carries the provenance of a boundary crossing's inputs to whatever
// interceptor observes the opaque call.
//
// A task in Go is a goroutine plus the context it was handed. A slot is
// bound both ways when a crossing activates it:
//   - in a per-goroutine table, for interceptors that never see a context
//   - in the returned context, for targets that take one and for goroutines
//     such a target starts on the crossing's behalf
//
// A fresh goroutine that was not handed the context starts with an empty
// channel; Detach strips the binding from a context deliberately passed to
// a new task.
//
// A slot is write-once: its origins are fixed at activation. Release empties
// it and restores the slot of the enclosing crossing, if any, so a context
// retained past the crossing observes nothing.
package transfer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kolkov/taintflow/internal/taint/goid"
	"github.com/kolkov/taintflow/internal/taint/origin"
)

// Slot holds the origins of one active crossing.
type Slot struct {
	origins origin.Set
	owner   int64
	done    atomic.Bool
}

// Origins returns the in-flight origins, or the empty set once the crossing
// has exited.
func (s *Slot) Origins() origin.Set {
	if s == nil || s.done.Load() {
		return origin.Set{}
	}
	return s.origins
}

// Active reports whether the crossing is still running.
func (s *Slot) Active() bool {
	return s != nil && !s.done.Load()
}

// Owner returns the goroutine that activated the slot.
func (s *Slot) Owner() int64 {
	return s.owner
}

// ctxKey scopes context bindings to one Channel.
type ctxKey struct{ c *Channel }

// Channel is the transfer channel of one engine.
type Channel struct {
	slots sync.Map // int64 goroutine ID -> *Slot
	n     atomic.Int64
}

// New creates an empty channel.
func New() *Channel {
	return &Channel{}
}

// Activate opens a slot holding set for the calling goroutine and returns a
// context bound to it, plus the release function that closes it.
//
// release is idempotent and safe to call from a deferred function on any
// goroutine. It must run on every exit path of the crossing.
func (c *Channel) Activate(ctx context.Context, set origin.Set) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	g := goid.Current()
	s := &Slot{origins: set, owner: g}

	prev, hadPrev := c.slots.Swap(g, s)
	c.n.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.done.Store(true)
			c.n.Add(-1)
			if hadPrev && prev.(*Slot).Active() {
				c.slots.CompareAndSwap(g, s, prev)
			} else {
				c.slots.CompareAndDelete(g, s)
			}
		})
	}
	return context.WithValue(ctx, ctxKey{c}, s), release
}

// Active returns the in-flight origins visible to the caller.
//
// A slot bound to ctx wins. Without one, the calling goroutine's slot is
// used. A context produced by Detach hides the goroutine slot too.
func (c *Channel) Active(ctx context.Context) origin.Set {
	if s, bound := c.fromContext(ctx); bound {
		return s.Origins()
	}
	return c.Current()
}

// Current returns the calling goroutine's in-flight origins, ignoring any
// context.
func (c *Channel) Current() origin.Set {
	v, ok := c.slots.Load(goid.Current())
	if !ok {
		return origin.Set{}
	}
	return v.(*Slot).Origins()
}

// SlotOf returns the slot bound to ctx, or nil.
func (c *Channel) SlotOf(ctx context.Context) *Slot {
	s, _ := c.fromContext(ctx)
	return s
}

// Bind returns ctx bound to slot s. Used to hand the active crossing to a
// context the caller passed explicitly.
func (c *Channel) Bind(ctx context.Context, s *Slot) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{c}, s)
}

// Detach returns a context carrying ctx's values and cancellation but with
// an empty channel, for handing to a new task.
func (c *Channel) Detach(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{c}, (*Slot)(nil))
}

// Len returns the number of slots currently open across all goroutines.
func (c *Channel) Len() int {
	return int(c.n.Load())
}

func (c *Channel) fromContext(ctx context.Context) (*Slot, bool) {
	if ctx == nil {
		return nil, false
	}
	s, bound := ctx.Value(ctxKey{c}).(*Slot)
	return s, bound
}
