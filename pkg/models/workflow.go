// Package models defines the core domain models of the workflow automation engine.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// TriggerType is the kind of domain event a workflow definition reacts to.
type TriggerType string

const (
	TriggerStatusChanged  TriggerType = "status_changed"
	TriggerEntityCreated  TriggerType = "entity_created"
	TriggerEntityUpdated  TriggerType = "entity_updated"
	TriggerEntityAssigned TriggerType = "entity_assigned"
	TriggerTaskDue        TriggerType = "task_due"
	TriggerTaskOverdue    TriggerType = "task_overdue"
	TriggerScheduled      TriggerType = "scheduled"
	TriggerInactivity     TriggerType = "inactivity"
)

var triggerTypes = []TriggerType{
	TriggerStatusChanged,
	TriggerEntityCreated,
	TriggerEntityUpdated,
	TriggerEntityAssigned,
	TriggerTaskDue,
	TriggerTaskOverdue,
	TriggerScheduled,
	TriggerInactivity,
}

// sweepTriggers are fired by external schedulers enumerating entities, so the same
// (workflow, entity) pair may be offered many times a day.
var sweepTriggers = []TriggerType{
	TriggerScheduled,
	TriggerInactivity,
	TriggerTaskDue,
	TriggerTaskOverdue,
}

// Valid reports whether t is one of the known trigger types.
func (t TriggerType) Valid() bool {
	return slices.Contains(triggerTypes, t)
}

// IsSweep reports whether t is fired by a periodic sweep and is therefore deduplicated.
func (t TriggerType) IsSweep() bool {
	return slices.Contains(sweepTriggers, t)
}

// Scope controls which entities a definition applies to.
type Scope string

const (
	ScopeOrg      Scope = "org"      // Applies to every entity of the organization
	ScopePersonal Scope = "personal" // Applies only to entities owned by OwnerUserID
)

// ConditionLogic combines the results of a definition's conditions.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

// WorkflowDefinition is a stored automation rule: a trigger, conditions and an ordered action list.
type WorkflowDefinition struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"           validate:"required"`
	Name           string         `json:"name"                      validate:"required,min=3"`
	Description    string         `json:"description,omitempty"`
	Scope          Scope          `json:"scope"                     validate:"required,oneof=org personal"`
	OwnerUserID    string         `json:"owner_user_id,omitempty"   validate:"required_if=Scope personal"`
	TriggerType    TriggerType    `json:"trigger_type"              validate:"required"`
	TriggerConfig  map[string]any `json:"trigger_config,omitempty"`
	Conditions     []Condition    `json:"conditions"                validate:"dive"`
	ConditionLogic ConditionLogic `json:"condition_logic"           validate:"omitempty,oneof=AND OR"`
	Actions        []Action       `json:"actions"                   validate:"required,min=1,dive"`
	IsEnabled      bool           `json:"is_enabled"`

	RateLimitPerHour         *int `json:"rate_limit_per_hour,omitempty"           validate:"omitempty,min=1"`
	RateLimitPerEntityPerDay *int `json:"rate_limit_per_entity_per_day,omitempty" validate:"omitempty,min=1"`

	RunCount  int        `json:"run_count"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Logic returns the condition combinator, defaulting to AND.
func (w *WorkflowDefinition) Logic() ConditionLogic {
	if w.ConditionLogic == "" {
		return LogicAnd
	}

	return w.ConditionLogic
}

// RequiresApproval reports whether any action of the definition waits for a human decision.
func (w *WorkflowDefinition) RequiresApproval() bool {
	for _, action := range w.Actions {
		if action.RequiresApproval {
			return true
		}
	}

	return false
}

// AppliesToOwner reports whether the definition's scope covers an entity owned by ownerID.
func (w *WorkflowDefinition) AppliesToOwner(ownerID string) bool {
	switch w.Scope {
	case ScopeOrg:
		return true
	case ScopePersonal:
		return w.OwnerUserID != "" && w.OwnerUserID == ownerID
	default:
		return false
	}
}

// ParseDefinition decodes a JSON definition and validates it.
func ParseDefinition(data []byte) (*WorkflowDefinition, error) {
	var workflow WorkflowDefinition
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, newConfigurationError("definition", err.Error())
	}

	if err := workflow.Validate(); err != nil {
		return nil, err
	}

	return &workflow, nil
}

// Validate checks the struct tags, the closed sets that tags cannot express and the trigger
// configuration against its schema. It returns a *ConfigurationError on the first problem.
func (w *WorkflowDefinition) Validate() error {
	if err := validate.Struct(w); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return newConfigurationError(fieldErrs[0].Namespace(), fmt.Sprintf("failed the %q rule", fieldErrs[0].Tag()))
		}

		return newConfigurationError("definition", err.Error())
	}

	if !w.TriggerType.Valid() {
		return newConfigurationError("trigger_type", fmt.Sprintf("unknown trigger type %q", w.TriggerType))
	}

	if w.ConditionLogic != "" && w.ConditionLogic != LogicAnd && w.ConditionLogic != LogicOr {
		return newConfigurationError("condition_logic", fmt.Sprintf("unknown condition logic %q", w.ConditionLogic))
	}

	for i, condition := range w.Conditions {
		if err := condition.Validate(); err != nil {
			return newConfigurationError(fmt.Sprintf("conditions[%d]", i), err.Error())
		}
	}

	for i, action := range w.Actions {
		if err := action.Validate(); err != nil {
			return newConfigurationError(fmt.Sprintf("actions[%d]", i), err.Error())
		}
	}

	if _, err := ParseTriggerConfig(w.TriggerType, w.TriggerConfig); err != nil {
		return err
	}

	return nil
}
