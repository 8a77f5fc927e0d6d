package models

import "time"

// ExecutionStatus is the persisted state of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionStatusRunning  ExecutionStatus = "running" // Actions in progress, not yet finalized
	ExecutionStatusSuccess  ExecutionStatus = "success"
	ExecutionStatusPartial  ExecutionStatus = "partial"
	ExecutionStatusFailed   ExecutionStatus = "failed"
	ExecutionStatusSkipped  ExecutionStatus = "skipped"
	ExecutionStatusPaused   ExecutionStatus = "paused"   // Waiting for an approval decision
	ExecutionStatusCanceled ExecutionStatus = "canceled" // Approval denied
	ExecutionStatusExpired  ExecutionStatus = "expired"  // Approval timed out
)

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s != ExecutionStatusPaused && s != ExecutionStatusRunning
}

// EventSource identifies who caused the triggering event.
type EventSource string

const (
	SourceUser     EventSource = "user"
	SourceWorkflow EventSource = "workflow"
	SourceSystem   EventSource = "system"
)

// ActionResult is the outcome of one action of an execution, in list order.
type ActionResult struct {
	ActionIndex int            `json:"action_index"`
	ActionType  ActionType     `json:"action_type"`
	Success     bool           `json:"success"`
	Skipped     bool           `json:"skipped,omitempty"`
	Error       string         `json:"error,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	TaskID      string         `json:"task_id,omitempty"` // Approval task that gated this action
	ExecutedAt  time.Time      `json:"executed_at"`
}

// WorkflowExecution is one recorded attempt to apply one definition to one event.
type WorkflowExecution struct {
	ID                string          `json:"id"`
	WorkflowID        string          `json:"workflow_id"`
	OrganizationID    string          `json:"organization_id"`
	EventID           string          `json:"event_id"`
	Depth             int             `json:"depth"`
	EventSource       EventSource     `json:"event_source"`
	TriggerType       TriggerType     `json:"trigger_type"`
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id"`
	TriggerEvent      map[string]any  `json:"trigger_event,omitempty"`
	DedupeKey         *string         `json:"dedupe_key,omitempty"`
	MatchedConditions bool            `json:"matched_conditions"`
	ActionsExecuted   []ActionResult  `json:"actions_executed"`
	Status            ExecutionStatus `json:"status"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	DurationMs        int64           `json:"duration_ms"`
	TriggeredByUserID string          `json:"triggered_by_user_id,omitempty"`
	PausedAtIndex     *int            `json:"paused_at_action_index,omitempty"`
	PausedTaskID      *string         `json:"paused_task_id,omitempty"`
	PausedAt          *time.Time      `json:"paused_at,omitempty"`
	ExecutedAt        time.Time       `json:"executed_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// AllSucceeded reports whether every recorded action result succeeded.
func (e *WorkflowExecution) AllSucceeded() bool {
	for _, result := range e.ActionsExecuted {
		if !result.Success {
			return false
		}
	}

	return true
}

// Pause records the approval gate the execution now waits on.
func (e *WorkflowExecution) Pause(actionIndex int, taskID string, at time.Time) {
	e.Status = ExecutionStatusPaused
	e.PausedAtIndex = &actionIndex
	e.PausedTaskID = &taskID
	e.PausedAt = &at
}

// ClearPause removes the approval gate before the execution moves to another state.
func (e *WorkflowExecution) ClearPause() {
	e.PausedAtIndex = nil
	e.PausedTaskID = nil
	e.PausedAt = nil
}
