package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/munistream/engine/observability"
	"github.com/munistream/engine/workflow"
)

// depthKey is the context key carrying the current hook-expansion depth
// through a chain of Dispatch calls (spec §4.7, "bounded in depth").
type depthKey struct{}

// WithDepth returns a context carrying hook-expansion depth d, used when an
// instance created by a hook itself emits events on completion.
func WithDepth(ctx context.Context, d int) context.Context {
	return context.WithValue(ctx, depthKey{}, d)
}

func depthFrom(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// DepthFromContext exposes the hook-expansion depth carried by ctx (set via
// WithDepth) so a listener instance can persist the depth it was created at,
// and later have it threaded back in when that instance's own events fire.
func DepthFromContext(ctx context.Context) int {
	return depthFrom(ctx)
}

// InstanceCreator is the subset of the engine a Registry needs to create a
// listener instance — satisfied by engine.Engine, kept as an interface here
// to avoid a hooks -> engine import cycle (engine imports hooks).
type InstanceCreator interface {
	CreateListenerInstance(ctx context.Context, listenerWorkflowID string, initialContext map[string]any, parentInstanceID string, triggeringEvent *workflow.Event) (string, error)
}

// Metrics counts hook registry activity, the pub/sub analogue of
// orchestrate/hub/metrics.go's Metrics, surfaced to the metrics package's
// Prometheus exporter.
type Metrics struct {
	eventsEmitted    atomic.Int64
	hooksMatched     atomic.Int64
	instancesSpawned atomic.Int64
	depthExceeded    atomic.Int64
}

type MetricsSnapshot struct {
	EventsEmitted    int64
	HooksMatched     int64
	InstancesSpawned int64
	DepthExceeded    int64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsEmitted:    m.eventsEmitted.Load(),
		HooksMatched:     m.hooksMatched.Load(),
		InstancesSpawned: m.instancesSpawned.Load(),
		DepthExceeded:    m.depthExceeded.Load(),
	}
}

// Registry is the Hook Registry & Event Bus (spec §4.7).
type Registry struct {
	mu       sync.RWMutex
	hooks    []compiledHook
	maxDepth int
	observer observability.Observer
	metrics  *Metrics
	logger   *slog.Logger
}

type compiledHook struct {
	Hook
	pattern *regexp.Regexp
}

// New creates an empty Hook Registry.
func New(maxDepth int, observer observability.Observer) *Registry {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &Registry{
		maxDepth: maxDepth,
		observer: observer,
		metrics:  &Metrics{},
		logger:   slog.Default(),
	}
}

// Metrics returns the registry's activity counters.
func (r *Registry) Metrics() MetricsSnapshot {
	return r.metrics.Snapshot()
}

// RegisterHook compiles and registers a hook, immutable thereafter (spec §3).
func (r *Registry) RegisterHook(h Hook) error {
	pattern, err := regexp.Compile(h.EventPattern)
	if err != nil {
		return fmt.Errorf("hooks: invalid event_pattern %q: %w", h.EventPattern, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, compiledHook{Hook: h, pattern: pattern})
	return nil
}

// Match returns the hooks whose event_pattern, source_workflow_id filter,
// and conditions all match ev, sorted by priority descending (spec §4.7
// steps 1-4).
func (r *Registry) Match(ev workflow.Event) ([]Hook, error) {
	r.mu.RLock()
	candidates := make([]compiledHook, len(r.hooks))
	copy(candidates, r.hooks)
	r.mu.RUnlock()

	var matched []Hook
	for _, h := range candidates {
		if !h.pattern.MatchString(string(ev.EventType)) {
			continue
		}
		if h.SourceWorkflowID != "" && h.SourceWorkflowID != "*" && h.SourceWorkflowID != ev.SourceWorkflowID {
			continue
		}
		ok, err := evaluateConditions(h.Conditions, ev.Payload)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		matched = append(matched, h.Hook)
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })
	return matched, nil
}

// Dispatch matches ev against registered hooks and creates a listener
// instance for each match via creator, in priority order (spec §4.7, §5
// "listener instances created from them are ordered only by their hook
// priority"). Hook expansion depth is read from ctx (see WithDepth);
// exceeding maxDepth records a warning event and skips creation for that
// hook without failing the whole dispatch (spec §4.7: "not fatal").
func (r *Registry) Dispatch(ctx context.Context, ev workflow.Event, creator InstanceCreator) error {
	r.metrics.eventsEmitted.Add(1)

	depth := depthFrom(ctx)
	matched, err := r.Match(ev)
	if err != nil {
		return err
	}
	r.metrics.hooksMatched.Add(int64(len(matched)))

	for _, h := range matched {
		if depth >= r.maxDepth {
			r.metrics.depthExceeded.Add(1)
			r.observer.OnEvent(ctx, observability.Event{
				Type:      "hook.depth_exceeded",
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "hooks",
				Data: map[string]any{
					"hook_id":    h.HookID,
					"event_type": ev.EventType,
					"depth":      depth,
				},
			})
			continue
		}

		initialContext := h.MapContext(ev.Payload)
		childCtx := WithDepth(ctx, depth+1)
		instanceID, err := creator.CreateListenerInstance(childCtx, h.ListenerWorkflowID, initialContext, ev.SourceInstanceID, &ev)
		if err != nil {
			r.logger.ErrorContext(ctx, "hook dispatch failed to create listener instance",
				slog.String("hook_id", h.HookID),
				slog.String("listener_workflow_id", h.ListenerWorkflowID),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.metrics.instancesSpawned.Add(1)
		r.observer.OnEvent(ctx, observability.Event{
			Type:      "hook.instance_created",
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "hooks",
			Data: map[string]any{
				"hook_id":     h.HookID,
				"instance_id": instanceID,
				"event_type":  ev.EventType,
			},
		})
	}

	return nil
}
