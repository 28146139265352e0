// Copyright 2025 The taintflow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boundary

import (
	"context"
	"reflect"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kolkov/taintflow/internal/taint/adapter"
	"github.com/kolkov/taintflow/internal/taint/origin"
	"github.com/kolkov/taintflow/internal/taint/shadow"
	"github.com/kolkov/taintflow/internal/taint/transfer"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Stats counts crossings by path.
type Stats struct {
	Opaque   uint64 // crossings into uninstrumented code
	Direct   uint64 // calls into user code
	Deferred uint64 // awaitable results wrapped for tagging at resolution
	Async    uint64 // crossings started with CrossAsync
	Failed   uint64 // crossings that returned an error or panicked
}

// Protocol runs boundary crossings against one store and channel.
type Protocol struct {
	store   *shadow.Store
	channel *transfer.Channel
	reg     *registry
	logger  *zap.Logger

	opaque   atomic.Uint64
	direct   atomic.Uint64
	deferred atomic.Uint64
	async    atomic.Uint64
	failed   atomic.Uint64
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Protocol) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMonitored treats every function in packages matching patterns as
// user code. See Protocol.Monitor.
func WithMonitored(patterns ...string) Option {
	return func(p *Protocol) { p.reg.monitor(patterns...) }
}

// WithInstrumented registers fns as user code.
func WithInstrumented(fns ...any) Option {
	return func(p *Protocol) { p.reg.mark(fns...) }
}

// New creates a Protocol.
func New(store *shadow.Store, channel *transfer.Channel, opts ...Option) *Protocol {
	p := &Protocol{
		store:   store,
		channel: channel,
		reg:     newRegistry(),
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// MarkInstrumented registers functions or methods as user code and returns
// how many could be named. Method values and method expressions both
// register the method.
func (p *Protocol) MarkInstrumented(fns ...any) int {
	return p.reg.mark(fns...)
}

// Monitor adds monitored package patterns: an import path, or a path ending
// in "/..." for the whole subtree.
func (p *Protocol) Monitor(patterns ...string) {
	p.reg.monitor(patterns...)
}

// Instrumented reports whether call targets user code. Calls that cannot be
// resolved report false.
func (p *Protocol) Instrumented(call Call) bool {
	t, err := resolve(call)
	return err == nil && p.reg.instrumented(t)
}

// Stats returns the crossing counters.
func (p *Protocol) Stats() Stats {
	return Stats{
		Opaque:   p.opaque.Load(),
		Direct:   p.direct.Load(),
		Deferred: p.deferred.Load(),
		Async:    p.async.Load(),
		Failed:   p.failed.Load(),
	}
}

// Cross performs call and returns its results, the trailing error result
// split off. Results of opaque calls come back in trackable form: adaptable
// values are boxed.
//
// Errors returned by the target are returned unchanged; a *CallError is
// returned only when the call could not be made at all.
func (p *Protocol) Cross(ctx context.Context, call Call) ([]any, error) {
	t, err := resolve(call)
	if err != nil {
		return nil, err
	}
	if p.reg.instrumented(t) {
		p.direct.Add(1)
		return p.invokeDirect(t, call.Kwargs)
	}
	p.opaque.Add(1)
	return p.invokeOpaque(ctx, t, call)
}

// Cross1 is Cross for targets with a single result besides the error.
func (p *Protocol) Cross1(ctx context.Context, call Call) (any, error) {
	res, err := p.Cross(ctx, call)
	if len(res) == 0 {
		return nil, err
	}
	return res[0], err
}

func (p *Protocol) invokeOpaque(ctx context.Context, t *target, call Call) (res []any, err error) {
	// COLLECT
	sets := make([]origin.Set, 0, len(call.Args)+len(call.Kwargs)+1)
	if call.Receiver != nil {
		sets = append(sets, p.store.OriginOf(call.Receiver))
	}
	for _, a := range call.Args {
		sets = append(sets, p.store.OriginOf(a))
	}
	for _, v := range call.Kwargs {
		sets = append(sets, p.store.OriginOf(v))
	}
	union := origin.Union(sets...)

	args := adapter.UnwrapAll(t.args)
	if len(call.Kwargs) > 0 {
		kw := make(map[string]any, len(call.Kwargs))
		for k, v := range call.Kwargs {
			kw[k] = adapter.Unwrap(v)
		}
		args = append(args, kw)
	}
	ft := t.fn.Type()
	in, err := adapter.Arguments(ft, args)
	if err != nil {
		return nil, &CallError{Target: t.String(), Err: err}
	}

	// ACTIVATE
	bctx, release := p.channel.Activate(ctx, union)
	// DEACTIVATE
	defer release()

	slot := p.channel.SlotOf(bctx)
	for i := range in {
		if adapter.ParamType(ft, i) != contextType {
			continue
		}
		argCtx, _ := in[i].Interface().(context.Context)
		if argCtx == nil {
			argCtx = bctx
		}
		in[i] = reflect.ValueOf(p.channel.Bind(argCtx, slot))
	}

	p.logger.Debug("opaque crossing",
		zap.String("target", t.String()),
		zap.Int("args", len(args)),
		zap.Stringer("origins", union))

	// INVOKE
	before := p.store.Clock()
	completed := false
	defer func() {
		if !completed || err != nil {
			p.failed.Add(1)
		}
	}()
	out := t.fn.Call(in)
	completed = true

	// TAG
	res, err = split(ft, out)
	for i, v := range res {
		res[i] = p.tag(v, union, before)
	}
	return res, err
}

func (p *Protocol) invokeDirect(t *target, kwargs map[string]any) (res []any, err error) {
	args := t.args
	if len(kwargs) > 0 {
		args = append(slices.Clone(args), kwargs)
	}
	ft := t.fn.Type()

	// User code takes adapters wherever its parameter types can hold them.
	fixed := make([]any, len(args))
	for i, a := range args {
		if i < ft.NumIn() || ft.IsVariadic() {
			if _, verr := adapter.ValueFor(a, adapter.ParamType(ft, i)); verr != nil {
				a = adapter.Unwrap(a)
			}
		}
		fixed[i] = a
	}
	in, err := adapter.Arguments(ft, fixed)
	if err != nil {
		return nil, &CallError{Target: t.String(), Err: err}
	}

	completed := false
	defer func() {
		if !completed || err != nil {
			p.failed.Add(1)
		}
	}()
	out := t.fn.Call(in)
	completed = true
	return split(ft, out)
}

// tag records v with set. A value recorded while the target ran, by an
// interceptor or by any other goroutine, keeps those origins joined with
// set. Awaitable values are wrapped so tagging happens at resolution.
func (p *Protocol) tag(v any, set origin.Set, before uint64) any {
	if a, ok := awaitable(v); ok {
		p.deferred.Add(1)
		return &Deferred{p: p, inner: a, origins: set}
	}
	if e, ok := p.store.Snapshot(v); ok && e.Stamp > before {
		joined := e.Self.Union(set)
		if joined.Equal(e.Self) {
			return v
		}
		return p.store.Record(v, joined)
	}
	return p.store.Record(v, set)
}

// split converts call results and separates a trailing error.
func split(ft reflect.Type, out []reflect.Value) ([]any, error) {
	var err error
	if n := ft.NumOut(); n > 0 && ft.Out(n-1) == errorType {
		err, _ = out[n-1].Interface().(error)
		out = out[:n-1]
	}
	res := make([]any, len(out))
	for i, o := range out {
		res[i] = o.Interface()
	}
	return res, err
}
