package expression

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

var referencePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolve substitutes {{path.to.value}} references in a config value with
// data from the execution context. A string that is exactly one reference
// resolves to the referenced value with its native type preserved; a
// string with embedded references renders them as text. Maps and slices
// are resolved recursively.
func Resolve(value any, context map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, context)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			resolved, err := Resolve(item, context)
			if err != nil {
				return nil, err
			}

			out[key] = resolved
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			resolved, err := Resolve(item, context)
			if err != nil {
				return nil, err
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return value, nil
	}
}

// ResolveConfig resolves every value of a node's parameter map.
func ResolveConfig(config map[string]any, context map[string]any) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}

	resolved, err := Resolve(config, context)
	if err != nil {
		return nil, err
	}

	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("resolved config is %T, expected map", resolved)
	}

	return out, nil
}

func resolveString(s string, context map[string]any) (any, error) {
	matches := referencePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	container := gabs.Wrap(context)

	// A whole-string reference keeps the native type of the referenced
	// value instead of flattening it to text.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := strings.TrimSpace(s[matches[0][2]:matches[0][3]])

		return lookup(container, path)
	}

	var builder strings.Builder

	last := 0

	for _, m := range matches {
		builder.WriteString(s[last:m[0]])

		path := strings.TrimSpace(s[m[2]:m[3]])

		value, err := lookup(container, path)
		if err != nil {
			return nil, err
		}

		builder.WriteString(asText(value))

		last = m[1]
	}

	builder.WriteString(s[last:])

	return builder.String(), nil
}

func lookup(container *gabs.Container, path string) (any, error) {
	if !container.ExistsP(path) {
		return nil, fmt.Errorf("context has no value at %q", path)
	}

	return container.Path(path).Data(), nil
}

func asText(v any) string {
	if v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}
