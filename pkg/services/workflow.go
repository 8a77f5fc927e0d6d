package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Workflow struct {
	persistence persistence.Persistence
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	// Pagination
	Limit  int
	Offset int

	// Filtering
	OrganizationID string
	TriggerType    models.TriggerType
	OwnerUserID    string
	EnabledOnly    bool
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.WorkflowDefinition `json:"workflows"`
	TotalCount  int64                        `json:"total_count"`
	HasNextPage bool                         `json:"has_next_page"`
}

// List retrieves workflow definitions with filtering and pagination.
func (w *Workflow) List(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := validateListWorkflowsRequest(&req); err != nil {
		return nil, err
	}

	result, err := w.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		OrganizationID: req.OrganizationID,
		TriggerType:    req.TriggerType,
		OwnerUserID:    req.OwnerUserID,
		EnabledOnly:    req.EnabledOnly,
		Limit:          req.Limit,
		Offset:         req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return &ListWorkflowsResponse{
		Workflows:   result.Workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

func validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	req.Limit, req.Offset = normalizePage(req.Limit, req.Offset)
	req.OwnerUserID = strings.TrimSpace(req.OwnerUserID)

	if req.TriggerType != "" && !req.TriggerType.Valid() {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_TRIGGER_TYPE",
			fmt.Sprintf("invalid trigger type '%s'", req.TriggerType),
			ErrInvalidRequest,
		)
	}

	return nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	if limit > maxPageSize {
		limit = maxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// Create validates and stores a new workflow definition. Run statistics start empty.
func (w *Workflow) Create(ctx context.Context, workflow *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.RunCount = 0
	workflow.LastRunAt = nil
	workflow.LastError = ""

	if err := validateDefinition("Create", workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// UpdateWorkflowRequest is a partial update: nil fields keep their stored value. The
// organization, scope, owner and trigger type of a definition never change.
type UpdateWorkflowRequest struct {
	Name                     *string                `json:"name"`
	Description              *string                `json:"description"`
	TriggerConfig            map[string]any         `json:"trigger_config"`
	Conditions               *[]models.Condition    `json:"conditions"`
	ConditionLogic           *models.ConditionLogic `json:"condition_logic"`
	Actions                  *[]models.Action       `json:"actions"`
	IsEnabled                *bool                  `json:"is_enabled"`
	RateLimitPerHour         *int                   `json:"rate_limit_per_hour"`
	RateLimitPerEntityPerDay *int                   `json:"rate_limit_per_entity_per_day"`
}

func (r UpdateWorkflowRequest) apply(workflow *models.WorkflowDefinition) {
	if r.Name != nil {
		workflow.Name = *r.Name
	}

	if r.Description != nil {
		workflow.Description = *r.Description
	}

	if r.TriggerConfig != nil {
		workflow.TriggerConfig = r.TriggerConfig
	}

	if r.Conditions != nil {
		workflow.Conditions = *r.Conditions
	}

	if r.ConditionLogic != nil {
		workflow.ConditionLogic = *r.ConditionLogic
	}

	if r.Actions != nil {
		workflow.Actions = *r.Actions
	}

	if r.IsEnabled != nil {
		workflow.IsEnabled = *r.IsEnabled
	}

	if r.RateLimitPerHour != nil {
		workflow.RateLimitPerHour = r.RateLimitPerHour
	}

	if r.RateLimitPerEntityPerDay != nil {
		workflow.RateLimitPerEntityPerDay = r.RateLimitPerEntityPerDay
	}
}

// Update applies a partial update to an existing workflow by its ID.
func (w *Workflow) Update(ctx context.Context, workflowID string, req UpdateWorkflowRequest) (*models.WorkflowDefinition, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	req.apply(workflow)
	workflow.UpdatedAt = time.Now().UTC()

	if err := validateDefinition("Update", workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// SetEnabled turns a workflow on or off.
func (w *Workflow) SetEnabled(ctx context.Context, workflowID string, enabled bool) (*models.WorkflowDefinition, error) {
	return w.Update(ctx, workflowID, UpdateWorkflowRequest{IsEnabled: &enabled})
}

// Delete removes a workflow by its ID. Its ledger rows are kept.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	if _, err := w.FetchByID(ctx, workflowID); err != nil {
		return err
	}

	err := w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

func validateDefinition(op string, workflow *models.WorkflowDefinition) error {
	if err := workflow.Validate(); err != nil {
		return NewValidationError(op, "INVALID_DEFINITION", err.Error(), err)
	}

	return nil
}
