package workflow

import (
	"context"
	"time"

	"github.com/munistream/engine/observability"
)

// ResultKind discriminates the TaskResult tagged union (spec §4.1).
type ResultKind int

const (
	// ResultContinue: task completed; Data is merged into the instance context.
	ResultContinue ResultKind = iota
	// ResultWaiting: task must be suspended awaiting external input or a timed wake.
	ResultWaiting
	// ResultRetry: transient failure; executor re-schedules after a delay.
	ResultRetry
	// ResultSkip: the task is marked skipped; downstream tasks treat it as
	// satisfied and run as though it had succeeded with empty output.
	ResultSkip
	// ResultFailed: terminal task failure; the whole instance fails.
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultContinue:
		return "continue"
	case ResultWaiting:
		return "waiting"
	case ResultRetry:
		return "retry"
	case ResultSkip:
		return "skip"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TaskResult is the tagged union every Operator.Execute returns. Exactly one
// of the variant-specific field sets is meaningful, selected by Kind; the
// constructor functions (Continue, Waiting, Retry, Skip, Failed) are the
// intended way to build one.
type TaskResult struct {
	Kind ResultKind

	// ResultContinue / ResultWaiting
	Data map[string]any

	// ResultWaiting
	WaitingFor        string
	RetryDelaySeconds *int

	// ResultRetry
	RetryError  string
	RetryDelay  *int

	// ResultSkip
	SkipReason string

	// ResultFailed
	Error string
}

// Continue builds a ResultContinue TaskResult.
func Continue(data map[string]any) TaskResult {
	return TaskResult{Kind: ResultContinue, Data: data}
}

// Waiting builds a ResultWaiting TaskResult. retryDelaySeconds is nil when
// the suspension is purely input-driven (no timed wake).
func Waiting(data map[string]any, waitingFor string, retryDelaySeconds *int) TaskResult {
	return TaskResult{Kind: ResultWaiting, Data: data, WaitingFor: waitingFor, RetryDelaySeconds: retryDelaySeconds}
}

// Retry builds a ResultRetry TaskResult. delaySeconds nil means the executor
// applies its default exponential backoff.
func Retry(errMsg string, delaySeconds *int) TaskResult {
	return TaskResult{Kind: ResultRetry, RetryError: errMsg, RetryDelay: delaySeconds}
}

// Skip builds a ResultSkip TaskResult.
func Skip(reason string) TaskResult {
	return TaskResult{Kind: ResultSkip, SkipReason: reason}
}

// Failed builds a ResultFailed TaskResult.
func Failed(errMsg string) TaskResult {
	return TaskResult{Kind: ResultFailed, Error: errMsg}
}

// LogSink is the per-task log channel an Operator may write through
// (spec §4.1 rule 4: "observable but not part of the data plane").
type LogSink interface {
	LogInfo(msg string, details map[string]any)
	LogWarning(msg string, details map[string]any)
	LogError(msg string, details map[string]any)
}

// TaskContext is the runtime service handle passed to Operator.Execute: read
// access to the instance context, the task's own id, its persisted scratch
// state slot, and a log sink (spec §6, "Operator runtime services").
type TaskContext struct {
	TaskID       string
	Context      Context
	AttemptCount int
	Metadata     map[string]any
	Log          LogSink
	Observer     observability.Observer

	// emitted is the operator-provided event buffer attached to the
	// instance (spec §4.7: "any operator-provided event buffer attached to
	// the instance"), drained by the executor after the transition that
	// produced it is persisted.
	emitted *[]Event
}

// NewTaskContext builds a TaskContext backed by its own event buffer.
func NewTaskContext(taskID string, ctx Context, attempt int, metadata map[string]any, log LogSink, observer observability.Observer) *TaskContext {
	return &TaskContext{
		TaskID:       taskID,
		Context:      ctx,
		AttemptCount: attempt,
		Metadata:     metadata,
		Log:          log,
		Observer:     observer,
		emitted:      &[]Event{},
	}
}

// EmitEvent appends an explicitly-emitted domain event (e.g.
// "ENTITY_CREATED.property") to the task's event buffer for the executor to
// dispatch once the transition is durable.
func (tc *TaskContext) EmitEvent(eventType EventType, payload map[string]any) {
	if tc.emitted == nil {
		tc.emitted = &[]Event{}
	}
	*tc.emitted = append(*tc.emitted, Event{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// DrainEvents returns and clears the task's buffered events.
func (tc *TaskContext) DrainEvents() []Event {
	if tc.emitted == nil {
		return nil
	}
	out := *tc.emitted
	*tc.emitted = nil
	return out
}

// Operator is the stateless, per-task-kind unit of work every DAG task
// configuration resolves to. Operators carry no per-instance state: all
// per-execution state lives on the instance's TaskState (spec §3, Operator
// invariants).
type Operator interface {
	// Execute runs synchronously and returns a TaskResult. Implementations
	// must not panic as a control-flow mechanism; an uncaught panic is
	// trapped by the executor and converted into ResultFailed (spec §7).
	Execute(ctx context.Context, tc *TaskContext) TaskResult
}

// AsyncOperator is the optional asynchronous form (spec §4.1): the executor
// prefers it when available so long-running I/O does not block a worker.
type AsyncOperator interface {
	Operator
	ExecuteAsync(ctx context.Context, tc *TaskContext) TaskResult
}

// OperatorFunc adapts a plain function to the Operator interface, the Go
// analogue of the source's arbitrary-callable "python operator" (see
// operators.FuncOperator for a variant whose function returns data and an
// error instead of a TaskResult).
type OperatorFunc func(ctx context.Context, tc *TaskContext) TaskResult

func (f OperatorFunc) Execute(ctx context.Context, tc *TaskContext) TaskResult {
	return f(ctx, tc)
}

// seconds is a small helper for constructing *int delay fields tersely.
func seconds(n int) *int { return &n }

// Backoff computes exponential backoff with jitter, bounded by maxDelay,
// for the executor's default ResultRetry scheduling (spec §4.3).
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	jitter := time.Duration(float64(d) * 0.25 * jitterFraction(attempt))
	out := d - d/8 + jitter
	if out > maxDelay {
		out = maxDelay
	}
	return out
}

// jitterFraction derives a deterministic pseudo-random fraction in [0,1)
// from attempt so Backoff stays reproducible without a global RNG source
// (the engine must not call time-of-day randomness per repo convention).
func jitterFraction(attempt int) float64 {
	x := (attempt*2654435761 + 1) & 0x7fffffff
	return float64(x%1000) / 1000.0
}
