package models

// TaskStatus is the state of an external approval task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed" // Approved
	TaskStatusDenied    TaskStatus = "denied"
	TaskStatusExpired   TaskStatus = "expired"
)

// Decision is the human outcome a paused execution resumes with.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionExpired  Decision = "expired"
)

// DecisionFromTaskStatus maps a resolved task to the decision it carries.
// Pending or unknown states map to an empty decision.
func DecisionFromTaskStatus(status TaskStatus) Decision {
	switch status {
	case TaskStatusCompleted:
		return DecisionApproved
	case TaskStatusDenied:
		return DecisionDenied
	case TaskStatusExpired:
		return DecisionExpired
	default:
		return ""
	}
}

// ApprovalPayload is the frozen snapshot stored on an approval task when an execution pauses.
type ApprovalPayload struct {
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	ActionIndex int    `json:"action_index"`
	Action      Action `json:"action"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
}

// ApprovalTask is the external human-resolved task an execution waits on while paused.
type ApprovalTask struct {
	ID           string          `json:"id"            validate:"required"`
	Status       TaskStatus      `json:"status"        validate:"required"`
	AssigneeID   string          `json:"assignee_id,omitempty"`
	Payload      ApprovalPayload `json:"payload"`
	DenialReason string          `json:"denial_reason,omitempty"`
}
