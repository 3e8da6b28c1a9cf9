package operators

import (
	"context"
	"fmt"

	"github.com/munistream/engine/workflow"
)

// Validator checks one field's value, returning a human-readable problem or
// "" if the value is acceptable.
type Validator func(value any) string

// Form is the Go analogue of user_input.py's UserInputOperator: it suspends
// until external input is delivered at the task's conventional input key,
// then validates it itself before continuing (spec §4.6: "its operator is
// expected to read its input, validate it, and either return continue,
// waiting again ..., or failed").
type Form struct {
	RequiredFields []string
	Validators     map[string]Validator
	FormConfig     map[string]any // opaque schema/UI hints surfaced to the waiting caller
}

func (f *Form) Execute(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
	input, ok := tc.Context.Get(workflow.InputKey(tc.TaskID))
	if !ok {
		return workflow.Waiting(map[string]any{"form_config": f.FormConfig}, "user_input", nil)
	}

	data, ok := input.(map[string]any)
	if !ok {
		return workflow.Waiting(map[string]any{
			"form_config":       f.FormConfig,
			"validation_errors": []string{"input must be an object"},
		}, "user_input", nil)
	}

	var errs []string
	for _, field := range f.RequiredFields {
		v, present := data[field]
		if !present || v == nil {
			errs = append(errs, fmt.Sprintf("%s is required", field))
		}
	}
	for field, validate := range f.Validators {
		v, present := data[field]
		if !present {
			continue
		}
		if msg := validate(v); msg != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", field, msg))
		}
	}

	if len(errs) > 0 {
		tc.Log.LogWarning("form validation failed", map[string]any{"errors": errs})
		return workflow.Waiting(map[string]any{
			"form_config":       f.FormConfig,
			"validation_errors": errs,
		}, "user_input", nil)
	}

	return workflow.Continue(data)
}

var _ workflow.Operator = (*Form)(nil)
