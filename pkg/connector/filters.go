package connector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Jeffail/gabs/v2"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
)

// EvalFilters is the shared filter implementation built-in triggers use
// for ApplyFilters. All rules must match (AND semantics); an item missing
// a filtered field fails that rule.
func EvalFilters(item map[string]any, filters []models.FilterRule) bool {
	if len(filters) == 0 {
		return true
	}

	container := gabs.Wrap(item)

	for _, rule := range filters {
		value := container.Path(rule.Field).Data()
		if !evalRule(value, rule) {
			return false
		}
	}

	return true
}

func evalRule(value any, rule models.FilterRule) bool {
	switch rule.Operator {
	case "eq":
		return asString(value) == asString(rule.Value)
	case "neq":
		return asString(value) != asString(rule.Value)
	case "contains":
		return strings.Contains(asString(value), asString(rule.Value))
	case "gt":
		left, right, ok := asNumbers(value, rule.Value)

		return ok && left > right
	case "lt":
		left, right, ok := asNumbers(value, rule.Value)

		return ok && left < right
	default:
		return false
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}

	return fmt.Sprintf("%v", v)
}

func asNumbers(left, right any) (float64, float64, bool) {
	l, lok := asFloat(left)
	r, rok := asFloat(right)

	return l, r, lok && rok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}
