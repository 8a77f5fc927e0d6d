// Package condition evaluates workflow conditions against an entity snapshot.
package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
)

// Evaluate applies conditions to entity and combines the results with logic.
// An empty condition list always holds. Missing fields read as nil.
func Evaluate(conditions []models.Condition, logic models.ConditionLogic, entity map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}

	if logic == models.LogicOr {
		for _, c := range conditions {
			if EvaluateOne(c, entity) {
				return true
			}
		}

		return false
	}

	for _, c := range conditions {
		if !EvaluateOne(c, entity) {
			return false
		}
	}

	return true
}

// EvaluateOne applies a single condition. It never panics; unusable operands yield false.
func EvaluateOne(c models.Condition, entity map[string]any) bool {
	actual := entity[c.Field]

	switch c.Operator {
	case models.OpEquals:
		return toString(actual) == toString(c.Value)
	case models.OpNotEquals:
		return toString(actual) != toString(c.Value)
	case models.OpContains:
		return contains(actual, c.Value)
	case models.OpNotContains:
		return !contains(actual, c.Value)
	case models.OpIsEmpty:
		return isEmpty(actual)
	case models.OpIsNotEmpty:
		return !isEmpty(actual)
	case models.OpIn:
		return inList(actual, c.Value)
	case models.OpNotIn:
		return !inList(actual, c.Value)
	case models.OpGreaterThan:
		a, b, ok := numbers(actual, c.Value)
		return ok && a > b
	case models.OpLessThan:
		a, b, ok := numbers(actual, c.Value)
		return ok && a < b
	default:
		return false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}

	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// contains matches a substring for scalar fields and an element for list fields, case-insensitively.
func contains(actual, expected any) bool {
	if actual == nil {
		return false
	}

	needle := strings.ToLower(toString(expected))

	if items, ok := asList(actual); ok {
		for _, item := range items {
			if strings.ToLower(toString(item)) == needle {
				return true
			}
		}

		return false
	}

	return strings.Contains(strings.ToLower(toString(actual)), needle)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// inList accepts either a list or a comma-separated string and compares trimmed strings. Any other
// scalar reads as its string form.
func inList(actual, expected any) bool {
	if expected == nil {
		return false
	}

	var candidates []string

	if items, ok := asList(expected); ok {
		for _, item := range items {
			candidates = append(candidates, toString(item))
		}
	} else {
		for _, part := range strings.Split(toString(expected), ",") {
			candidates = append(candidates, strings.TrimSpace(part))
		}
	}

	needle := toString(actual)
	for _, candidate := range candidates {
		if candidate == needle {
			return true
		}
	}

	return false
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}

		return items, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}

	return items, true
}

func numbers(a, b any) (float64, float64, bool) {
	x, ok := toFloat(a)
	if !ok {
		return 0, 0, false
	}

	y, ok := toFloat(b)
	if !ok {
		return 0, 0, false
	}

	return x, y, true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}

		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}
