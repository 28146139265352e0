package boundary

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/kolkov/taintflow/internal/taint/origin"
)

// Awaitable is a value that resolves later. Opaque targets returning one
// get their result tagged at resolution instead of at call time.
//
// A receive-only channel result (<-chan T) is treated as a one-shot future:
// its Deferred resolves to the first value received.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// awaitable reports whether v resolves later and returns it as an Awaitable.
func awaitable(v any) (Awaitable, bool) {
	if a, ok := v.(Awaitable); ok {
		return a, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Chan && rv.Type().ChanDir() == reflect.RecvDir && !rv.IsNil() {
		return recvFuture{ch: rv}, true
	}
	return nil, false
}

// recvFuture awaits the next value of a receive-only channel.
type recvFuture struct {
	ch reflect.Value
}

func (f recvFuture) Await(ctx context.Context) (any, error) {
	cases := []reflect.SelectCase{{Dir: reflect.SelectRecv, Chan: f.ch}}
	if ctx != nil && ctx.Done() != nil {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	}
	chosen, v, ok := reflect.Select(cases)
	switch {
	case chosen == 1:
		return nil, ctx.Err()
	case !ok:
		return nil, ErrChannelClosed
	}
	return v.Interface(), nil
}

// Deferred wraps an awaitable result of an opaque crossing. Awaiting it
// re-activates the crossing's origins on the awaiting goroutine, resolves
// the inner value and tags it.
type Deferred struct {
	p       *Protocol
	inner   Awaitable
	origins origin.Set

	mu       sync.Mutex
	resolved bool
	val      any
	err      error
}

// Origins returns the origin set the resolved value will carry.
func (d *Deferred) Origins() origin.Set {
	return d.origins
}

// Await resolves the inner value. The first successful resolution is
// cached; a resolution cut short by ctx may be retried.
func (d *Deferred) Await(ctx context.Context) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.resolved {
		return d.val, d.err
	}

	actx, release := d.p.channel.Activate(ctx, d.origins)
	defer release()

	before := d.p.store.Clock()
	v, err := d.inner.Await(actx)
	if err != nil && ctx != nil && ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, err
	}
	if err != nil {
		d.p.failed.Add(1)
	}
	d.val, d.err = d.p.tag(v, d.origins, before), err
	d.resolved = true
	return d.val, d.err
}

// Future is the pending result of CrossAsync.
type Future struct {
	done     chan struct{}
	results  []any
	err      error
	panicked bool
	panicVal any
}

// CrossAsync starts call on a new goroutine and returns its Future. The
// goroutine starts with an empty channel: ctx keeps its values and
// cancellation but not the caller's in-flight origins.
//
// A panic in the target is re-raised by Results and Await.
func (p *Protocol) CrossAsync(ctx context.Context, call Call) *Future {
	p.async.Add(1)
	f := &Future{done: make(chan struct{})}
	actx := p.channel.Detach(ctx)

	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.panicked, f.panicVal = true, r
			}
		}()
		f.results, f.err = p.Cross(actx, call)
	}()
	return f
}

// Done is closed once the call has completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Results waits for the call and returns all of its results.
func (f *Future) Results(ctx context.Context) ([]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.panicked {
		panic(f.panicVal)
	}
	return f.results, f.err
}

// Await waits for the call and returns its first result.
func (f *Future) Await(ctx context.Context) (any, error) {
	res, err := f.Results(ctx)
	if len(res) == 0 {
		return nil, err
	}
	return res[0], err
}

// AwaitAll waits for every future in order and returns their first
// results. It stops at the first error.
func AwaitAll(ctx context.Context, fs ...*Future) ([]any, error) {
	out := make([]any, len(fs))
	for i, f := range fs {
		v, err := f.Await(ctx)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}
