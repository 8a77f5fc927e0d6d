// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/engine"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
)

// CreateWorkflowRequest represents the request body for creating a workflow definition.
// Definition-level rules (trigger config schema, operators, action parameters) are checked by
// the service layer.
type CreateWorkflowRequest struct {
	OrganizationID string                `json:"organization_id"         validate:"required"`
	Name           string                `json:"name"                    validate:"required,min=3"`
	Description    string                `json:"description"`
	Scope          models.Scope          `json:"scope"                   validate:"required,oneof=org personal"`
	OwnerUserID    string                `json:"owner_user_id"`
	TriggerType    models.TriggerType    `json:"trigger_type"            validate:"required"`
	TriggerConfig  map[string]any        `json:"trigger_config"`
	Conditions     []models.Condition    `json:"conditions"`
	ConditionLogic models.ConditionLogic `json:"condition_logic"         validate:"omitempty,oneof=AND OR"`
	Actions        []models.Action       `json:"actions"                 validate:"required,min=1"`
	IsEnabled      bool                  `json:"is_enabled"`
	CreatedBy      string                `json:"created_by"`

	RateLimitPerHour         *int `json:"rate_limit_per_hour"`
	RateLimitPerEntityPerDay *int `json:"rate_limit_per_entity_per_day"`
}

// Definition converts the request into an unsaved workflow definition.
func (r CreateWorkflowRequest) Definition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		OrganizationID:           r.OrganizationID,
		Name:                     r.Name,
		Description:              r.Description,
		Scope:                    r.Scope,
		OwnerUserID:              r.OwnerUserID,
		TriggerType:              r.TriggerType,
		TriggerConfig:            r.TriggerConfig,
		Conditions:               r.Conditions,
		ConditionLogic:           r.ConditionLogic,
		Actions:                  r.Actions,
		IsEnabled:                r.IsEnabled,
		CreatedBy:                r.CreatedBy,
		RateLimitPerHour:         r.RateLimitPerHour,
		RateLimitPerEntityPerDay: r.RateLimitPerEntityPerDay,
	}
}

// TriggerEventRequest is a domain event reported by the host application.
type TriggerEventRequest struct {
	OrganizationID    string             `json:"organization_id"     validate:"required"`
	TriggerType       models.TriggerType `json:"trigger_type"        validate:"required"`
	EntityType        string             `json:"entity_type"         validate:"required"`
	EntityID          string             `json:"entity_id"           validate:"required"`
	EventData         map[string]any     `json:"event_data"`
	EventID           string             `json:"event_id"`
	Depth             int                `json:"depth"               validate:"min=0"`
	Source            models.EventSource `json:"source"              validate:"omitempty,oneof=user workflow system"`
	EntityOwnerID     string             `json:"entity_owner_id"`
	TriggeredByUserID string             `json:"triggered_by_user_id"`
}

func (r TriggerEventRequest) TriggerRequest() engine.TriggerRequest {
	return engine.TriggerRequest{
		OrganizationID:    r.OrganizationID,
		TriggerType:       r.TriggerType,
		EntityType:        r.EntityType,
		EntityID:          r.EntityID,
		EventData:         r.EventData,
		EventID:           r.EventID,
		Depth:             r.Depth,
		Source:            r.Source,
		EntityOwnerID:     r.EntityOwnerID,
		TriggeredByUserID: r.TriggeredByUserID,
	}
}

// TriggerEventResponse lists the ledger rows written for the event.
type TriggerEventResponse struct {
	Executions []*models.WorkflowExecution `json:"executions"`
	Count      int                         `json:"count"`
}

// ContinueExecutionRequest carries the resolved approval task of a paused execution. An empty
// decision is derived from the task status.
type ContinueExecutionRequest struct {
	Task     models.ApprovalTask `json:"task"`
	Decision models.Decision     `json:"decision" validate:"omitempty,oneof=approved denied expired"`
}
