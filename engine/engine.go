// Package engine is the top-level facade over the workflow engine (spec §6):
// it composes the DAG Bag, Executor, Hook Registry, and Store behind the
// external operation surface an embedding application calls. Grounded on
// orchestrate/hub/hub.go's role as the single composition point wiring
// config, state, and messaging together behind a small public API.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/munistream/engine/config"
	"github.com/munistream/engine/executor"
	"github.com/munistream/engine/hooks"
	"github.com/munistream/engine/metrics"
	"github.com/munistream/engine/observability"
	"github.com/munistream/engine/store"
	"github.com/munistream/engine/workflow"
)

// Config bundles every subsystem's configuration (spec §9, engine package).
type Config struct {
	Executor config.ExecutorConfig
	Hooks    config.HookConfig
	Store    config.StoreConfig
}

// DefaultConfig returns sensible defaults across every subsystem.
func DefaultConfig() Config {
	return Config{
		Executor: config.DefaultExecutorConfig(),
		Hooks:    config.DefaultHookConfig(),
		Store:    config.DefaultStoreConfig(),
	}
}

// Engine is the process-wide façade an embedding application holds one of.
// It implements hooks.InstanceCreator and the executor's hookCreator so that
// hook-triggered listener instances are created through the same path as any
// other instance (spec §4.7: "listener instances ... created the same way as
// any other CreateInstance call").
type Engine struct {
	cfg Config

	bag      *workflow.Bag
	st       store.Store
	hookReg  *hooks.Registry
	exec     *executor.Executor
	observer observability.Observer
	metrics  *metrics.Exporter
	logger   *slog.Logger
}

// Option configures an Engine after config-driven initialization, mirroring
// the teacher's kernel.Option: New cold-starts every subsystem from Config,
// then Options override individual subsystems for tests (e.g. a pre-seeded
// store.Store or a recording observability.Observer).
type Option func(*Engine)

// WithStore overrides the config-created Store.
func WithStore(st store.Store) Option {
	return func(e *Engine) { e.st = st }
}

// WithObserver overrides the default observer resolved from
// Config.Executor.Observer.
func WithObserver(o observability.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New constructs an Engine, wiring Store, Hook Registry, Executor, and
// Prometheus metrics together, but does not start the worker pool — call
// Start for that.
func New(cfg Config, opts ...Option) (*Engine, error) {
	observer, err := observability.GetObserver(cfg.Executor.Observer)
	if err != nil {
		observer = observability.NoOpObserver{}
	}

	st, err := store.New(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		bag:      workflow.NewBag(),
		st:       st,
		observer: observer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.hookReg = hooks.New(cfg.Hooks.MaxDepth, e.observer)
	e.metrics = metrics.New(metrics.DefaultConfig())
	e.exec = executor.New(cfg.Executor, e.bag, e.st, e.hookReg, e.observer)
	e.exec.SetMetricsSink(e.metrics)
	e.exec.SetInstanceCreator(e)
	return e, nil
}

// Start begins the executor's worker pool and sweeper. ctx governs the
// engine's lifetime; cancel it (or call Stop) to shut down.
func (e *Engine) Start(ctx context.Context) {
	e.exec.Start(ctx)
}

// Stop drains the worker pool and closes the store.
func (e *Engine) Stop() error {
	e.exec.Stop()
	return e.st.Close()
}

// Metrics returns the Prometheus exporter for scraping via its Handler.
func (e *Engine) Metrics() *metrics.Exporter { return e.metrics }

// RegisterDAG adds a DAG to the process-wide Bag and persists its
// registration metadata (spec §6, register_dag).
func (e *Engine) RegisterDAG(ctx context.Context, d *workflow.DAG) error {
	if err := e.bag.Register(d); err != nil {
		return err
	}
	return e.st.SaveDAGRegistration(ctx, d.DAGID, d.Description)
}

// RegisterHook adds a rule to the Hook Registry & Event Bus (spec §4.7).
// Hook registration sits alongside DAG registration in the engine's startup
// wiring; it is not itself part of spec §6's external operation surface
// because hooks are operational configuration, not a per-request operation.
func (e *Engine) RegisterHook(h hooks.Hook) error {
	return e.hookReg.RegisterHook(h)
}

func newInstanceID() string {
	return uuid.Must(uuid.NewV7()).String()
}
