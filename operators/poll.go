package operators

import (
	"context"
	"fmt"

	"github.com/munistream/engine/workflow"
)

// Poller is the remote work a Poll operator drives: Start kicks off a
// remote run and returns an opaque run id; Check reports whether it has
// finished and, if so, its result payload.
type Poller interface {
	Start(ctx context.Context, tc *workflow.TaskContext) (runID string, err error)
	Check(ctx context.Context, tc *workflow.TaskContext, runID string) (done bool, result map[string]any, err error)
}

// Poll is the Go analogue of external_api.py's ExternalAPIOperator adapted
// to the "polled external DAG" suspension point named in spec §1/§4.6: it
// persists the remote run id in its TaskState.Metadata scratch slot so a
// timed wake can resume polling without re-starting the remote work (spec
// §4.6, "Timed wake ... the task re-runs; it must read its persisted state
// from context and decide whether to poll, fail on timeout, or wait again").
type Poll struct {
	Poller          Poller
	PollIntervalSec int // default 30
}

const pollRunIDKey = "remote_run_id"

func (p *Poll) Execute(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
	interval := p.PollIntervalSec
	if interval <= 0 {
		interval = 30
	}

	runID, started := tc.Metadata[pollRunIDKey].(string)
	if !started || runID == "" {
		id, err := p.Poller.Start(ctx, tc)
		if err != nil {
			return workflow.Retry(fmt.Sprintf("failed to start remote run: %v", err), nil)
		}
		tc.Metadata[pollRunIDKey] = id
		delay := interval
		return workflow.Waiting(map[string]any{"remote_run_id": id}, "remote_poll", &delay)
	}

	done, result, err := p.Poller.Check(ctx, tc, runID)
	if err != nil {
		return workflow.Retry(fmt.Sprintf("poll check failed for run %s: %v", runID, err), nil)
	}
	if !done {
		delay := interval
		return workflow.Waiting(map[string]any{"remote_run_id": runID}, "remote_poll", &delay)
	}
	return workflow.Continue(result)
}

var _ workflow.Operator = (*Poll)(nil)
