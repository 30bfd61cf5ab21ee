// Package expression provides edge-condition evaluation and config
// reference resolution against an execution context.
package expression

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// ValidateCondition checks an edge condition for syntactic
// well-formedness. Called at save time; data-dependent failures still
// surface at run time as node failures.
func ValidateCondition(condition string) error {
	if condition == "" {
		return nil
	}

	_, err := expr.Compile(condition, expr.AllowUndefinedVariables())
	if err != nil {
		return fmt.Errorf("invalid condition %q: %w", condition, err)
	}

	return nil
}

// EvalCondition evaluates an edge condition against the execution
// context. An empty condition is always true. Missing variables evaluate
// to nil rather than failing, so a condition over not-yet-produced output
// is falsy instead of an error.
func EvalCondition(condition string, env map[string]any) (bool, error) {
	if condition == "" {
		return true, nil
	}

	if env == nil {
		env = map[string]any{}
	}

	program, err := expr.Compile(condition, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("invalid condition %q: %w", condition, err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("condition %q failed: %w", condition, err)
	}

	return truthy(out), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
