// Package operators implements the engine's built-in Operator kinds, each
// grounded on one of original_source/backend/app/workflows/operators/*.py's
// self-contained operators: the function wraps stay agnostic of the DAG
// shape around them, receiving only the instance Context and their own
// per-attempt TaskContext (spec §3, Operator invariants).
package operators

import (
	"context"

	"github.com/munistream/engine/workflow"
)

// Func is the Go analogue of python.py's PythonOperator: a plain callable
// that reads the instance context and returns data to merge in, or an error
// to retry. Unlike the source's PythonOperator, Func never swallows a panic
// itself — the executor's recovery is the only panic boundary (spec §7).
type Func func(ctx context.Context, tc *workflow.TaskContext) (map[string]any, error)

// FuncOperator adapts a Func to workflow.Operator, translating a returned
// error into ResultRetry (the common case for a function talking to
// flaky I/O) rather than ResultFailed, mirroring external_api.py's
// "retryable" branch. Use NewFailingFuncOperator to force immediate
// ResultFailed instead.
type FuncOperator struct {
	fn      Func
	failing bool
}

// NewFuncOperator wraps fn as a retry-on-error Operator.
func NewFuncOperator(fn Func) *FuncOperator {
	return &FuncOperator{fn: fn}
}

// NewFailingFuncOperator wraps fn as a fail-on-error Operator: an error
// ends the instance rather than scheduling a retry.
func NewFailingFuncOperator(fn Func) *FuncOperator {
	return &FuncOperator{fn: fn, failing: true}
}

func (o *FuncOperator) Execute(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
	data, err := o.fn(ctx, tc)
	if err != nil {
		if o.failing {
			return workflow.Failed(err.Error())
		}
		return workflow.Retry(err.Error(), nil)
	}
	return workflow.Continue(data)
}

var _ workflow.Operator = (*FuncOperator)(nil)
