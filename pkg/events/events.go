// Package events defines the messages exchanged with the host application and the
// execution lifecycle notifications published by the engine.
package events

import (
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const DomainTopic = "caseflow.domain.events"                 // Inbound domain events and approval decisions
const WorkflowExecutionTopic = "caseflow.workflow.executions" // Execution lifecycle notifications

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound events.
	DomainEventType       EventType = "domain.event"
	ApprovalResolvedEvent EventType = "approval.resolved"

	// Workflow execution lifecycle events.
	WorkflowExecutionPausedEvent   EventType = "workflow.execution.paused"
	WorkflowExecutionResumedEvent  EventType = "workflow.execution.resumed"
	WorkflowExecutionFinishedEvent EventType = "workflow.execution.finished"
	WorkflowExecutionSkippedEvent  EventType = "workflow.execution.skipped"
)

// Topic returns the topic an event type travels on.
func Topic(eventType EventType) string {
	switch eventType {
	case DomainEventType, ApprovalResolvedEvent:
		return DomainTopic
	default:
		return WorkflowExecutionTopic
	}
}

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	OrganizationID string         `json:"organization_id"`
	WorkflowID     string         `json:"workflow_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// DomainEvent asks the engine to run Trigger for one entity.
type DomainEvent struct {
	BaseEvent

	TriggerType   models.TriggerType `json:"trigger_type"`
	EntityType    string             `json:"entity_type"`
	EntityID      string             `json:"entity_id"`
	EventData     map[string]any     `json:"event_data,omitempty"`
	EventID       string             `json:"event_id,omitempty"`
	Depth         int                `json:"depth"`
	Source        models.EventSource `json:"source,omitempty"`
	EntityOwnerID string             `json:"entity_owner_id,omitempty"`
	UserID        string             `json:"user_id,omitempty"`
}

func (d DomainEvent) GetType() EventType {
	return DomainEventType
}

// ApprovalResolved carries a human decision on an approval task back to its execution.
type ApprovalResolved struct {
	BaseEvent

	ExecutionID string              `json:"execution_id"`
	Task        models.ApprovalTask `json:"task"`
	Decision    models.Decision     `json:"decision"`
}

func (a ApprovalResolved) GetType() EventType {
	return ApprovalResolvedEvent
}

type WorkflowExecutionPaused struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ActionIndex int    `json:"action_index"`
	TaskID      string `json:"task_id"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
}

func (w WorkflowExecutionPaused) GetType() EventType {
	return WorkflowExecutionPausedEvent
}

type WorkflowExecutionResumed struct {
	BaseEvent

	ExecutionID     string          `json:"execution_id"`
	Decision        models.Decision `json:"decision"`
	PauseDurationMs int64           `json:"pause_duration_ms"`
}

func (w WorkflowExecutionResumed) GetType() EventType {
	return WorkflowExecutionResumedEvent
}

type WorkflowExecutionFinished struct {
	BaseEvent

	ExecutionID     string                 `json:"execution_id"`
	Status          models.ExecutionStatus `json:"status"`
	DurationMs      int64                  `json:"duration_ms"`
	ActionsExecuted int                    `json:"actions_executed"`
	Error           string                 `json:"error,omitempty"`
}

func (w WorkflowExecutionFinished) GetType() EventType {
	return WorkflowExecutionFinishedEvent
}

type WorkflowExecutionSkipped struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EntityID    string `json:"entity_id"`
	Reason      string `json:"reason"`
}

func (w WorkflowExecutionSkipped) GetType() EventType {
	return WorkflowExecutionSkippedEvent
}

func NewBaseEvent(eventType EventType, organizationID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		OrganizationID: organizationID,
		WorkflowID:     workflowID,
		Metadata:       make(map[string]any),
	}
}
