package hooks

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// celPrefix marks a condition value as a CEL boolean expression over the
// event payload, rather than a plain equality constraint — a strict
// superset of spec §3's "equality constraints over event payload fields"
// (SPEC_FULL.md §11), grounded on 88lin-divinesense's
// server/router/api/v1/user_service_crud.go CEL-filter usage.
const celPrefix = "cel:"

// evaluateConditions reports whether every condition in hook.Conditions is
// satisfied by payload. Plain values are compared with equality; values
// prefixed "cel:" are compiled and evaluated as CEL boolean expressions
// with a single `payload` variable of dynamic type.
func evaluateConditions(conditions map[string]any, payload map[string]any) (bool, error) {
	for key, want := range conditions {
		expr, isCEL := asCELExpression(want)
		if !isCEL {
			if payload[key] != want {
				return false, nil
			}
			continue
		}

		ok, err := evalCELBool(expr, payload)
		if err != nil {
			return false, fmt.Errorf("hooks: condition %q: %w", key, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func asCELExpression(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, celPrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, celPrefix), true
}

func evalCELBool(expr string, payload map[string]any) (bool, error) {
	env, err := cel.NewEnv(cel.Variable("payload", cel.DynType))
	if err != nil {
		return false, fmt.Errorf("create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("build program: %w", err)
	}

	out, _, err := prg.Eval(map[string]any{"payload": payload})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to bool", expr)
	}
	return result, nil
}
