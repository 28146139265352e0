// Copyright 2025 The taintflow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine wires the store, transfer channel, boundary protocol,
// attribute rules and mutation handlers into one provenance engine.
//
// The engine's methods are the complete call contract of the program
// rewriter: every source-level operation of a monitored program is lowered
// onto one of them.
package engine

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/kolkov/taintflow/internal/taint/attr"
	"github.com/kolkov/taintflow/internal/taint/boundary"
	"github.com/kolkov/taintflow/internal/taint/config"
	"github.com/kolkov/taintflow/internal/taint/logging"
	"github.com/kolkov/taintflow/internal/taint/mutation"
	"github.com/kolkov/taintflow/internal/taint/origin"
	"github.com/kolkov/taintflow/internal/taint/report"
	"github.com/kolkov/taintflow/internal/taint/shadow"
	"github.com/kolkov/taintflow/internal/taint/transfer"
)

// Engine is one provenance engine. All methods are safe for concurrent use.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	store    *shadow.Store
	channel  *transfer.Channel
	protocol *boundary.Protocol
	rules    *attr.Rules
	handlers *mutation.Handlers

	reportTo  io.Writer
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	logger       *zap.Logger
	verbose      bool
	reportTo     io.Writer
	instrumented []any
}

// Option configures an Engine.
type Option func(*options)

// WithLogger makes the engine log to l instead of building a logger from
// the configuration.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithVerbose forces debug logging on the configured logger.
func WithVerbose(v bool) Option {
	return func(o *options) { o.verbose = v }
}

// WithReportWriter sends the close summary to w instead of the configured
// output. The summary is still only written when enabled in the
// configuration.
func WithReportWriter(w io.Writer) Option {
	return func(o *options) { o.reportTo = w }
}

// WithInstrumented registers fns as user code.
func WithInstrumented(fns ...any) Option {
	return func(o *options) { o.instrumented = append(o.instrumented, fns...) }
}

// New builds an engine from cfg. A nil cfg means config.Default().
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = logging.New(cfg.Logging, o.verbose); err != nil {
			return nil, err
		}
	}

	store := shadow.New(shadow.WithLogger(logger.Named("shadow")))
	if !cfg.Enabled {
		store.Disable()
	}
	channel := transfer.New()

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		channel:  channel,
		reportTo: o.reportTo,
		protocol: boundary.New(store, channel,
			boundary.WithLogger(logger.Named("boundary")),
			boundary.WithMonitored(cfg.Monitored.Packages...),
			boundary.WithInstrumented(o.instrumented...)),
		rules:    attr.New(store, attr.WithLogger(logger.Named("attr"))),
		handlers: mutation.New(store, mutation.WithLogger(logger.Named("mutation"))),
	}

	logger.Info("provenance engine started",
		zap.Bool("enabled", cfg.Enabled),
		zap.Strings("monitored", cfg.Monitored.Packages))
	return e, nil
}

// Config returns the engine's configuration. It must not be modified.
func (e *Engine) Config() *config.Config { return e.cfg }

// Logger returns the engine's logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// Record sets the origins of obj and returns its trackable form.
func (e *Engine) Record(obj any, set origin.Set) any { return e.store.Record(obj, set) }

// OriginOf returns the origins of obj, or the empty set.
func (e *Engine) OriginOf(obj any) origin.Set { return e.store.OriginOf(obj) }

// AttributeOriginOf returns the origins attribute name of parent resolves
// to, without recording anything.
func (e *Engine) AttributeOriginOf(parent any, name string) origin.Set {
	return e.rules.OriginOf(parent, name)
}

// Get reads attribute name of parent.
func (e *Engine) Get(parent any, name string) (any, error) { return e.rules.Get(parent, name) }

// Set assigns attribute name of parent.
func (e *Engine) Set(parent any, name string, value any) error {
	return e.rules.Set(parent, name, value)
}

// Call performs a boundary crossing.
func (e *Engine) Call(ctx context.Context, call boundary.Call) ([]any, error) {
	return e.protocol.Cross(ctx, call)
}

// Call1 performs a boundary crossing and returns its first result.
func (e *Engine) Call1(ctx context.Context, call boundary.Call) (any, error) {
	return e.protocol.Cross1(ctx, call)
}

// CallAsync starts a boundary crossing on a new goroutine.
func (e *Engine) CallAsync(ctx context.Context, call boundary.Call) *boundary.Future {
	return e.protocol.CrossAsync(ctx, call)
}

// MarkInstrumented registers fns as user code.
func (e *Engine) MarkInstrumented(fns ...any) int { return e.protocol.MarkInstrumented(fns...) }

// Active returns the origins of the crossing in flight for ctx. It is the
// interceptor's view of the transfer channel.
func (e *Engine) Active(ctx context.Context) origin.Set { return e.channel.Active(ctx) }

// Item reads an element of a collection.
func (e *Engine) Item(coll, key any) (any, error) { return e.handlers.Item(coll, key) }

// Origins lists the per-element origins of a sequence.
func (e *Engine) Origins(coll any) ([]origin.Set, error) { return e.handlers.Origins(coll) }

// Append appends vals to a sequence.
func (e *Engine) Append(coll any, vals ...any) error { return e.handlers.Append(coll, vals...) }

// Extend appends every element of src to a sequence.
func (e *Engine) Extend(coll, src any) error { return e.handlers.Extend(coll, src) }

// Insert inserts v at position i of a sequence.
func (e *Engine) Insert(coll any, i int, v any) error { return e.handlers.Insert(coll, i, v) }

// Pop removes and returns element i of a sequence.
func (e *Engine) Pop(coll any, i int) (any, error) { return e.handlers.Pop(coll, i) }

// SetIndex replaces element i of a sequence.
func (e *Engine) SetIndex(coll any, i int, v any) error { return e.handlers.SetIndex(coll, i, v) }

// Clear empties a sequence.
func (e *Engine) Clear(coll any) error { return e.handlers.Clear(coll) }

// SetKey assigns m[k] = v.
func (e *Engine) SetKey(coll, k, v any) error { return e.handlers.SetKey(coll, k, v) }

// Update copies every entry of src into a map.
func (e *Engine) Update(coll, src any) error { return e.handlers.Update(coll, src) }

// DeleteKey removes k from a map.
func (e *Engine) DeleteKey(coll, k any) error { return e.handlers.DeleteKey(coll, k) }

// PopKey removes k from a map and returns its value.
func (e *Engine) PopKey(coll, k any) (any, error) { return e.handlers.PopKey(coll, k) }

// ClearKeys empties a map.
func (e *Engine) ClearKeys(coll any) error { return e.handlers.ClearKeys(coll) }

// Permute reorders a sequence with reorder.
func (e *Engine) Permute(coll any, reorder mutation.Reorder) error {
	return e.handlers.Permute(coll, reorder)
}

// Sort sorts a sequence with less.
func (e *Engine) Sort(coll any, less func(a, b any) bool) error { return e.handlers.Sort(coll, less) }

// Reverse reverses a sequence.
func (e *Engine) Reverse(coll any) error { return e.handlers.Reverse(coll) }

// Shuffle shuffles a sequence with rng.
func (e *Engine) Shuffle(coll any, rng *rand.Rand) error { return e.handlers.Shuffle(coll, rng) }

// Enable resumes tracking.
func (e *Engine) Enable() { e.store.Enable() }

// Disable stops tracking. Existing entries are kept.
func (e *Engine) Disable() { e.store.Disable() }

// Enabled reports whether tracking is on.
func (e *Engine) Enabled() bool { return e.store.Enabled() }

// Summary returns a snapshot of the engine's activity.
func (e *Engine) Summary() report.Summary {
	lineages, origins := report.Lineages(e.store)
	return report.Summary{
		Enabled:   e.store.Enabled(),
		Store:     e.store.Stats(),
		Crossings: e.protocol.Stats(),
		Mutations: e.handlers.Applied(),
		Lineages:  lineages,
		Origins:   origins,
	}
}

// Close stops tracking and writes the summary when the configuration asks
// for it. Only the first call has any effect.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		sum := e.Summary()
		e.store.Disable()

		e.logger.Info("provenance engine stopped",
			zap.Int("live", sum.Store.Live),
			zap.Uint64("recorded", sum.Store.Recorded),
			zap.Uint64("crossings", sum.Crossings.Opaque),
			zap.Int("lineages", sum.Lineages))

		if e.cfg.Report.OnClose {
			e.closeErr = e.writeReport(sum)
		}
		_ = e.logger.Sync()
	})
	return e.closeErr
}

func (e *Engine) writeReport(sum report.Summary) error {
	if e.reportTo != nil {
		return sum.Write(e.reportTo)
	}
	w, err := report.Open(e.cfg.Report.Output)
	if err != nil {
		return err
	}
	if err := sum.Write(w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
