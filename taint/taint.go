package taint

import (
	"sync"

	"github.com/kolkov/taintflow/internal/taint/adapter"
	"github.com/kolkov/taintflow/internal/taint/attr"
	"github.com/kolkov/taintflow/internal/taint/boundary"
	"github.com/kolkov/taintflow/internal/taint/config"
	"github.com/kolkov/taintflow/internal/taint/engine"
	"github.com/kolkov/taintflow/internal/taint/mutation"
	"github.com/kolkov/taintflow/internal/taint/origin"
	"github.com/kolkov/taintflow/internal/taint/report"
)

type (
	// Engine is a provenance engine. See the package documentation.
	Engine = engine.Engine

	// Option configures an Engine.
	Option = engine.Option

	// Config is the engine configuration.
	Config = config.Config

	// Origin identifies one upstream call.
	Origin = origin.Origin

	// Set is an immutable set of origins.
	Set = origin.Set

	// Call describes a boundary crossing.
	Call = boundary.Call

	// Future is the pending result of Engine.CallAsync.
	Future = boundary.Future

	// Deferred is an awaitable result tagged at resolution.
	Deferred = boundary.Deferred

	// Awaitable is implemented by values that resolve later.
	Awaitable = boundary.Awaitable

	// Attributes lets a type expose dynamic attributes to Get and Set.
	Attributes = attr.Attributes

	// Reorder is a permutation applied by Engine.Permute.
	Reorder = mutation.Reorder

	// Summary is a snapshot of engine activity.
	Summary = report.Summary
)

// Engine options and configuration helpers.
var (
	WithLogger       = engine.WithLogger
	WithVerbose      = engine.WithVerbose
	WithReportWriter = engine.WithReportWriter
	WithInstrumented = engine.WithInstrumented

	DefaultConfig = config.Default
	LoadConfig    = config.Load
)

// Errors reported to the monitored program.
var (
	ErrNotCallable  = boundary.ErrNotCallable
	ErrNoMethod     = boundary.ErrNoMethod
	ErrTypeMismatch = adapter.ErrTypeMismatch
	ErrNoAttribute  = attr.ErrNoAttribute
	ErrNotSequence  = mutation.ErrNotSequence
	ErrNotMap       = mutation.ErrNotMap
	ErrFixedSize    = mutation.ErrFixedSize
)

// New creates an engine from the default configuration with environment
// overrides applied.
func New(opts ...Option) (*Engine, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	return engine.New(cfg, opts...)
}

// NewWithConfig creates an engine from cfg.
func NewWithConfig(cfg *Config, opts ...Option) (*Engine, error) {
	return engine.New(cfg, opts...)
}

// NewOrigin returns a fresh unique origin.
func NewOrigin() Origin {
	return origin.New()
}

// Of builds an origin set.
func Of(ids ...Origin) Set {
	return origin.Of(ids...)
}

// Unwrap returns the raw value of a boxed value, or v itself.
func Unwrap(v any) any {
	return adapter.Unwrap(v)
}

var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
)

// Init starts the process-wide engine from taintflow.yaml in the working
// directory, if present, and the environment. It is what the rewriter
// inserts at the start of main.
//
// Init is safe to call multiple times; later calls return the running
// engine.
func Init(opts ...Option) (*Engine, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultEngine != nil {
		return defaultEngine, nil
	}
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		return nil, err
	}
	e, err := engine.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defaultEngine = e
	return e, nil
}

// Default returns the engine started by Init, or nil.
func Default() *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultEngine
}

// Fini closes the engine started by Init, printing the summary if the
// configuration asks for it. A later Init starts a new engine.
func Fini() error {
	defaultMu.Lock()
	e := defaultEngine
	defaultEngine = nil
	defaultMu.Unlock()

	if e == nil {
		return nil
	}
	return e.Close()
}
