package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ActionType is the kind of side effect an action performs through the domain adapter.
type ActionType string

const (
	ActionSendNotification ActionType = "send_notification"
	ActionSendEmail        ActionType = "send_email"
	ActionCreateTask       ActionType = "create_task"
	ActionUpdateField      ActionType = "update_field"
	ActionAssignOwner      ActionType = "assign_owner"
	ActionAddNote          ActionType = "add_note"
	ActionCallWebhook      ActionType = "call_webhook"
)

// Action is one step of a workflow's effect list.
type Action struct {
	ActionType       ActionType     `json:"action_type"          validate:"required"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
}

// ActionParameters is the typed form of an action's parameter map.
type ActionParameters interface {
	Kind() ActionType
}

type SendNotificationParams struct {
	RecipientUserIDs []string `json:"recipient_user_ids" validate:"required,min=1"`
	Title            string   `json:"title"              validate:"required"`
	Body             string   `json:"body"`
}

func (SendNotificationParams) Kind() ActionType { return ActionSendNotification }

type SendEmailParams struct {
	TemplateID string   `json:"template_id" validate:"required"`
	Recipients []string `json:"recipients"  validate:"omitempty,dive,email"`
	// Defaults to the entity's primary contact when Recipients is empty.
	RecipientField string `json:"recipient_field"`
}

func (SendEmailParams) Kind() ActionType { return ActionSendEmail }

type CreateTaskParams struct {
	Title        string `json:"title"          validate:"required"`
	Description  string `json:"description"`
	AssigneeID   string `json:"assignee_id"`
	DueInDays    int    `json:"due_in_days"    validate:"min=0"`
	TaskPriority string `json:"priority"       validate:"omitempty,oneof=low normal high urgent"`
}

func (CreateTaskParams) Kind() ActionType { return ActionCreateTask }

type UpdateFieldParams struct {
	Field string `json:"field" validate:"required"`
	Value any    `json:"value"`
}

func (UpdateFieldParams) Kind() ActionType { return ActionUpdateField }

type AssignOwnerParams struct {
	OwnerType string `json:"owner_type" validate:"required,oneof=user queue"`
	OwnerID   string `json:"owner_id"   validate:"required"`
}

func (AssignOwnerParams) Kind() ActionType { return ActionAssignOwner }

type AddNoteParams struct {
	Content string `json:"content" validate:"required"`
}

func (AddNoteParams) Kind() ActionType { return ActionAddNote }

type CallWebhookParams struct {
	URL     string            `json:"url"     validate:"required,url"`
	Method  string            `json:"method"  validate:"omitempty,oneof=GET POST PUT PATCH"`
	Headers map[string]string `json:"headers"`
}

func (CallWebhookParams) Kind() ActionType { return ActionCallWebhook }

var ErrUnknownActionType = errors.New("unknown action type")

var validate = validator.New(validator.WithRequiredStructEnabled())

func newParams(kind ActionType) (ActionParameters, error) {
	switch kind {
	case ActionSendNotification:
		return &SendNotificationParams{}, nil
	case ActionSendEmail:
		return &SendEmailParams{}, nil
	case ActionCreateTask:
		return &CreateTaskParams{}, nil
	case ActionUpdateField:
		return &UpdateFieldParams{}, nil
	case ActionAssignOwner:
		return &AssignOwnerParams{}, nil
	case ActionAddNote:
		return &AddNoteParams{}, nil
	case ActionCallWebhook:
		return &CallWebhookParams{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, kind)
	}
}

// Params decodes the parameter map into the struct matching the action type.
func (a Action) Params() (ActionParameters, error) {
	params, err := newParams(a.ActionType)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(a.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s parameters: %w", a.ActionType, err)
	}

	if err := json.Unmarshal(raw, params); err != nil {
		return nil, fmt.Errorf("invalid %s parameters: %w", a.ActionType, err)
	}

	return params, nil
}

// Validate decodes and validates the typed parameters.
func (a Action) Validate() error {
	params, err := a.Params()
	if err != nil {
		return err
	}

	if err := validate.Struct(params); err != nil {
		return fmt.Errorf("invalid %s parameters: %w", a.ActionType, err)
	}

	return nil
}

// Snapshot returns a deep copy of the action, frozen for an approval task. Parameters that do
// not survive a JSON round trip are an error.
func (a Action) Snapshot() (Action, error) {
	snapshot := Action{
		ActionType:       a.ActionType,
		RequiresApproval: a.RequiresApproval,
	}

	if a.Parameters == nil {
		return snapshot, nil
	}

	raw, err := json.Marshal(a.Parameters)
	if err != nil {
		return Action{}, fmt.Errorf("failed to snapshot %s parameters: %w", a.ActionType, err)
	}

	if err := json.Unmarshal(raw, &snapshot.Parameters); err != nil {
		return Action{}, fmt.Errorf("failed to snapshot %s parameters: %w", a.ActionType, err)
	}

	return snapshot, nil
}
