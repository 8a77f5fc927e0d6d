package events

import (
	"encoding/json"
	"testing"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, DomainTopic, Topic(DomainEventType))
	assert.Equal(t, DomainTopic, Topic(ApprovalResolvedEvent))
	assert.Equal(t, WorkflowExecutionTopic, Topic(WorkflowExecutionPausedEvent))
	assert.Equal(t, WorkflowExecutionTopic, Topic(WorkflowExecutionFinishedEvent))
}

func TestNewBaseEvent(t *testing.T) {
	base := NewBaseEvent(WorkflowExecutionSkippedEvent, "org-1", "wf-1")

	assert.NotEmpty(t, base.ID)
	assert.Equal(t, WorkflowExecutionSkippedEvent, base.Type)
	assert.Equal(t, "org-1", base.OrganizationID)
	assert.False(t, base.Timestamp.IsZero())
	assert.NotNil(t, base.Metadata)
}

func TestDomainEventDecoding(t *testing.T) {
	payload := `{
		"organization_id": "org-1",
		"trigger_type": "status_changed",
		"entity_type": "case",
		"entity_id": "case-1",
		"event_data": {"to_status": "approved"},
		"depth": 1,
		"source": "workflow"
	}`

	var event DomainEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &event))

	assert.Equal(t, models.TriggerStatusChanged, event.TriggerType)
	assert.Equal(t, models.SourceWorkflow, event.Source)
	assert.Equal(t, 1, event.Depth)
	assert.Equal(t, "approved", event.EventData["to_status"])
	assert.Equal(t, DomainEventType, event.GetType())
}
