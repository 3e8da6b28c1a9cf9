package operators

import (
	"context"
	"fmt"

	"github.com/munistream/engine/workflow"
)

// Decision is the vocabulary deliver_decision accepts (spec §4.6).
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Approval is the Go analogue of approval.py's ApprovalOperator: it parks
// on "waiting for approval" until a matching deliver_decision payload
// arrives, optionally requiring N distinct approvers before continuing
// (spec §3: Operator attribute "required_approvers").
//
// Escalation paths and role-based re-assignment from the source operator
// are intentionally dropped: assignment and routing are the caller's
// concern (an out-of-scope HTTP/notification layer per spec §1), not the
// engine's (see DESIGN.md).
type Approval struct {
	ApproverRole      string
	RequiredApprovers int // 0 or 1 means a single decision suffices
	ReviewKeys        []string
	Message           string
}

func (a *Approval) Execute(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
	input, hasDecision := tc.Context.Get(workflow.InputKey(tc.TaskID))

	if !hasDecision {
		return a.requestApproval(tc)
	}

	payload, ok := input.(map[string]any)
	if !ok {
		return workflow.Failed("approval payload must be an object with a decision field")
	}

	decision, _ := payload["decision"].(string)
	decidedBy, _ := payload["decided_by"].(string)

	required := a.RequiredApprovers
	if required < 1 {
		required = 1
	}

	approvals, _ := tc.Metadata["approvals"].([]string)

	switch Decision(decision) {
	case DecisionApproved:
		if decidedBy != "" && !containsString(approvals, decidedBy) {
			approvals = append(approvals, decidedBy)
		}
		tc.Metadata["approvals"] = approvals
		tc.EmitEvent(workflow.EventApprovalDecided, map[string]any{
			"task_id": tc.TaskID, "decision": "approved", "decided_by": decidedBy,
		})

		if len(approvals) < required {
			return workflow.Waiting(map[string]any{
				"approvals_received": len(approvals),
				"approvals_required": required,
			}, "approval", nil)
		}
		return workflow.Continue(map[string]any{
			"approval_status": "approved",
			"approved_by":     approvals,
		})

	case DecisionRejected:
		reason, _ := payload["rejection_reason"].(string)
		tc.EmitEvent(workflow.EventApprovalDecided, map[string]any{
			"task_id": tc.TaskID, "decision": "rejected", "decided_by": decidedBy, "reason": reason,
		})
		if reason == "" {
			reason = "no reason given"
		}
		return workflow.Failed(fmt.Sprintf("rejected by %s: %s", decidedBy, reason))

	default:
		return workflow.Failed(fmt.Sprintf("unrecognized decision %q", decision))
	}
}

func (a *Approval) requestApproval(tc *workflow.TaskContext) workflow.TaskResult {
	if requested, _ := tc.Metadata["requested"].(bool); !requested {
		tc.Metadata["requested"] = true
		tc.EmitEvent(workflow.EventApprovalRequested, map[string]any{
			"task_id":       tc.TaskID,
			"approver_role": a.ApproverRole,
			"message":       a.Message,
			"review_keys":   a.ReviewKeys,
		})
	}
	return workflow.Waiting(map[string]any{
		"approver_role": a.ApproverRole,
		"message":       a.Message,
	}, "approval", nil)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var _ workflow.Operator = (*Approval)(nil)
