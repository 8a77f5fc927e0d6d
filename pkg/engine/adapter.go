package engine

import (
	"context"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
)

// Owner types of entities and approvable subjects.
const (
	OwnerTypeUser  = "user"
	OwnerTypeQueue = "queue"
)

// Entity is the snapshot of a domain record the conditions are evaluated against.
type Entity struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	OwnerType string         `json:"owner_type,omitempty"`
	OwnerID   string         `json:"owner_id,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// Subject is the record an approval task is attached to. Its owner resolves the approval.
type Subject struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
}

// ApprovalTaskRequest describes the approval task to open when an execution pauses.
type ApprovalTaskRequest struct {
	Workflow          *models.WorkflowDefinition
	Execution         *models.WorkflowExecution
	Action            models.Action // Frozen copy of the gated action
	ActionIndex       int
	Entity            *Entity
	Subject           *Subject
	OwnerUserID       string
	TriggeredByUserID string
}

// Payload is the snapshot the task must carry back on resolution.
func (r ApprovalTaskRequest) Payload() models.ApprovalPayload {
	return models.ApprovalPayload{
		WorkflowID:  r.Workflow.ID,
		ExecutionID: r.Execution.ID,
		ActionIndex: r.ActionIndex,
		Action:      r.Action,
		EntityType:  r.Entity.Type,
		EntityID:    r.Entity.ID,
	}
}

// TriggerFunc lets an action raise a nested domain event. The engine forces the depth to the
// caller's depth plus one and the source to workflow.
type TriggerFunc func(ctx context.Context, req TriggerRequest) ([]*models.WorkflowExecution, error)

// ActionRequest is one action handed to the adapter for execution.
type ActionRequest struct {
	WorkflowID      string
	ExecutionID     string
	ActionIndex     int
	Action          models.Action
	Params          models.ActionParameters
	Entity          *Entity
	EntityType      string
	EventID         string
	Depth           int
	WorkflowScope   models.Scope
	WorkflowOwnerID string
	Trigger         TriggerFunc
}

// ActionOutcome is the adapter's report of one action. A failed action does not stop the
// remaining actions.
type ActionOutcome struct {
	Success bool
	Error   string
	Output  map[string]any
}

// Adapter is the host application collaborator providing entity access, approval tasks and
// the side-effecting actions.
type Adapter interface {
	// GetEntity returns ErrEntityNotFound (possibly wrapped) when the entity does not exist.
	GetEntity(ctx context.Context, entityType, entityID string) (*Entity, error)

	// GetApprovableSubject returns the record approvals for the entity attach to, or nil.
	GetApprovableSubject(ctx context.Context, entityType string, entity *Entity) (*Subject, error)

	CreateApprovalTask(ctx context.Context, req ApprovalTaskRequest) (*models.ApprovalTask, error)
	ExecuteAction(ctx context.Context, req ActionRequest) ActionOutcome
	IsUserOptedOut(ctx context.Context, ownerUserID, workflowID string) (bool, error)
}
