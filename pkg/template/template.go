// Package template renders action parameters against the entity and event an execution runs for.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// NeedsTemplating reports whether input contains a template action.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// RenderParameters returns a copy of params with every templated string rendered against data.
// Nested maps and slices are walked; other values are copied as they are.
func RenderParameters(params map[string]any, data map[string]any) (map[string]any, error) {
	rendered, err := renderValue(params, data)
	if err != nil {
		return nil, err
	}

	out, _ := rendered.(map[string]any)

	return out, nil
}

func renderValue(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		if v == nil {
			return v, nil
		}

		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}

// Render executes templateStr against data. Output that reads as a JSON object or array, a
// number or a boolean is returned decoded; anything else is returned as a string. Missing keys
// are an error.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("parameter").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"default": func(fallback, value any) any {
				if value == nil || value == "" {
					return fallback
				}

				return value
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
