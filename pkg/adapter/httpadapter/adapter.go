// Package httpadapter implements the engine's domain adapter over the host application's
// internal REST API.
package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/engine"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/template"
	"github.com/sony/gobreaker"
)

// Adapter calls the host application for entities, approval tasks and actions.
type Adapter struct {
	client *client
	logger *slog.Logger
}

var _ engine.Adapter = (*Adapter)(nil)

func New(logger *slog.Logger, config Config) *Adapter {
	logger = logger.With("module", "httpadapter")

	return &Adapter{
		client: newClient(logger, config.withDefaults()),
		logger: logger,
	}
}

func entityPath(entityType, entityID string) string {
	return "/internal/entities/" + url.PathEscape(entityType) + "/" + url.PathEscape(entityID)
}

func (a *Adapter) GetEntity(ctx context.Context, entityType, entityID string) (*engine.Entity, error) {
	resp, err := a.client.get(ctx, entityPath(entityType, entityID))
	if err != nil {
		return nil, err
	}

	if resp.status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s %s", engine.ErrEntityNotFound, entityType, entityID)
	}

	var entity engine.Entity
	if err := resp.decode(&entity); err != nil {
		return nil, err
	}

	if entity.Type == "" {
		entity.Type = entityType
	}

	return &entity, nil
}

// GetApprovableSubject returns nil when the host has no subject for the entity.
func (a *Adapter) GetApprovableSubject(ctx context.Context, entityType string, entity *engine.Entity) (*engine.Subject, error) {
	resp, err := a.client.get(ctx, entityPath(entityType, entity.ID)+"/approvable-subject")
	if err != nil {
		return nil, err
	}

	if resp.status == http.StatusNotFound || resp.status == http.StatusNoContent {
		return nil, nil
	}

	var subject engine.Subject
	if err := resp.decode(&subject); err != nil {
		return nil, err
	}

	return &subject, nil
}

type approvalTaskBody struct {
	OrganizationID    string                 `json:"organization_id"`
	WorkflowID        string                 `json:"workflow_id"`
	WorkflowName      string                 `json:"workflow_name"`
	ExecutionID       string                 `json:"execution_id"`
	ActionIndex       int                    `json:"action_index"`
	Subject           *engine.Subject        `json:"subject"`
	OwnerUserID       string                 `json:"owner_user_id"`
	TriggeredByUserID string                 `json:"triggered_by_user_id,omitempty"`
	Payload           models.ApprovalPayload `json:"payload"`
}

func (a *Adapter) CreateApprovalTask(ctx context.Context, req engine.ApprovalTaskRequest) (*models.ApprovalTask, error) {
	resp, err := a.client.post(ctx, "/internal/approval-tasks", approvalTaskBody{
		OrganizationID:    req.Workflow.OrganizationID,
		WorkflowID:        req.Workflow.ID,
		WorkflowName:      req.Workflow.Name,
		ExecutionID:       req.Execution.ID,
		ActionIndex:       req.ActionIndex,
		Subject:           req.Subject,
		OwnerUserID:       req.OwnerUserID,
		TriggeredByUserID: req.TriggeredByUserID,
		Payload:           req.Payload(),
	})
	if err != nil {
		return nil, err
	}

	var task models.ApprovalTask
	if err := resp.decode(&task); err != nil {
		return nil, err
	}

	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}

	return &task, nil
}

type actionBody struct {
	WorkflowID      string            `json:"workflow_id"`
	ExecutionID     string            `json:"execution_id"`
	ActionIndex     int               `json:"action_index"`
	ActionType      models.ActionType `json:"action_type"`
	Parameters      map[string]any    `json:"parameters"`
	EntityType      string            `json:"entity_type"`
	EntityID        string            `json:"entity_id"`
	EventID         string            `json:"event_id"`
	Depth           int               `json:"depth"`
	WorkflowScope   models.Scope      `json:"workflow_scope"`
	WorkflowOwnerID string            `json:"workflow_owner_id,omitempty"`
}

type actionReply struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
}

// ExecuteAction renders templated parameters against the entity and posts the action. Follow-up
// events the host raises are reported back through the API with source workflow.
func (a *Adapter) ExecuteAction(ctx context.Context, req engine.ActionRequest) engine.ActionOutcome {
	params, err := template.RenderParameters(req.Action.Parameters, templateData(req))
	if err != nil {
		return engine.ActionOutcome{Error: fmt.Sprintf("failed to render parameters: %v", err)}
	}

	body := actionBody{
		WorkflowID:      req.WorkflowID,
		ExecutionID:     req.ExecutionID,
		ActionIndex:     req.ActionIndex,
		ActionType:      req.Action.ActionType,
		Parameters:      params,
		EntityType:      req.EntityType,
		EventID:         req.EventID,
		Depth:           req.Depth,
		WorkflowScope:   req.WorkflowScope,
		WorkflowOwnerID: req.WorkflowOwnerID,
	}

	if req.Entity != nil {
		body.EntityID = req.Entity.ID
	}

	resp, err := a.client.post(ctx, "/internal/actions", body)
	if err != nil {
		a.logger.WarnContext(ctx, "action request failed",
			"execution_id", req.ExecutionID, "action_index", req.ActionIndex, "error", err)

		return engine.ActionOutcome{Error: err.Error()}
	}

	var reply actionReply
	if err := resp.decode(&reply); err != nil {
		return engine.ActionOutcome{Error: err.Error()}
	}

	return engine.ActionOutcome{Success: reply.Success, Error: reply.Error, Output: reply.Output}
}

func templateData(req engine.ActionRequest) map[string]any {
	data := map[string]any{
		"workflow_id":  req.WorkflowID,
		"execution_id": req.ExecutionID,
		"event_id":     req.EventID,
	}

	if req.Entity != nil {
		data["entity"] = map[string]any{
			"id":         req.Entity.ID,
			"type":       req.Entity.Type,
			"owner_type": req.Entity.OwnerType,
			"owner_id":   req.Entity.OwnerID,
			"fields":     req.Entity.Fields,
		}
	}

	return data
}

type optOutReply struct {
	OptedOut bool `json:"opted_out"`
}

func (a *Adapter) IsUserOptedOut(ctx context.Context, ownerUserID, workflowID string) (bool, error) {
	resp, err := a.client.get(ctx,
		"/internal/users/"+url.PathEscape(ownerUserID)+"/workflow-opt-outs/"+url.PathEscape(workflowID))
	if err != nil {
		return false, err
	}

	if resp.status == http.StatusNotFound {
		return false, nil
	}

	var reply optOutReply
	if err := resp.decode(&reply); err != nil {
		return false, err
	}

	return reply.OptedOut, nil
}

// IsUnavailable reports whether err means the host could not be reached or the breaker is open.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrServerError) ||
		errors.Is(err, ErrUnreachable) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}
