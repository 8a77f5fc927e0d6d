package models

import (
	"errors"
	"fmt"
	"slices"
)

// Operator is the comparison a condition applies to an entity field.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

var operators = []Operator{
	OpEquals,
	OpNotEquals,
	OpContains,
	OpNotContains,
	OpIsEmpty,
	OpIsNotEmpty,
	OpIn,
	OpNotIn,
	OpGreaterThan,
	OpLessThan,
}

// Valid reports whether o belongs to the supported operator set.
func (o Operator) Valid() bool {
	return slices.Contains(operators, o)
}

// Condition is a single field/operator/value predicate evaluated against the triggering entity.
type Condition struct {
	Field    string   `json:"field"           validate:"required"`
	Operator Operator `json:"operator"        validate:"required"`
	Value    any      `json:"value,omitempty"`
}

var (
	ErrConditionFieldRequired = errors.New("condition field is required")
	ErrUnknownOperator        = errors.New("unknown condition operator")
	ErrInvalidListValue       = errors.New("in/not_in value must be a list or a comma-separated string")
)

// Validate rejects conditions the evaluator could never run meaningfully.
func (c Condition) Validate() error {
	if c.Field == "" {
		return ErrConditionFieldRequired
	}

	if !c.Operator.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}

	if c.Operator == OpIn || c.Operator == OpNotIn {
		switch c.Value.(type) {
		case string, []any, []string:
		default:
			return ErrInvalidListValue
		}
	}

	return nil
}
