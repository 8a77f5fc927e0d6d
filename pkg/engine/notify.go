package engine

import (
	"context"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/eventbus"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/events"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
)

// Lifecycle notifications are best effort: publish failures are logged and never change the
// outcome of an execution.

func (e *Engine) publish(ctx context.Context, exec *models.WorkflowExecution, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, exec.ID, event); err != nil {
		e.logger.WarnContext(ctx, "failed to publish execution event",
			"execution_id", exec.ID, "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) notifyPaused(ctx context.Context, exec *models.WorkflowExecution) {
	event := events.WorkflowExecutionPaused{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionPausedEvent, exec.OrganizationID, exec.WorkflowID),
		ExecutionID: exec.ID,
		EntityType:  exec.EntityType,
		EntityID:    exec.EntityID,
	}

	if exec.PausedAtIndex != nil {
		event.ActionIndex = *exec.PausedAtIndex
	}

	if exec.PausedTaskID != nil {
		event.TaskID = *exec.PausedTaskID
	}

	e.publish(ctx, exec, event)
}

func (e *Engine) notifyResumed(ctx context.Context, exec *models.WorkflowExecution, decision models.Decision, pauseMs int64) {
	e.publish(ctx, exec, events.WorkflowExecutionResumed{
		BaseEvent:       events.NewBaseEvent(events.WorkflowExecutionResumedEvent, exec.OrganizationID, exec.WorkflowID),
		ExecutionID:     exec.ID,
		Decision:        decision,
		PauseDurationMs: pauseMs,
	})
}

func (e *Engine) notifyFinished(ctx context.Context, exec *models.WorkflowExecution) {
	e.publish(ctx, exec, events.WorkflowExecutionFinished{
		BaseEvent:       events.NewBaseEvent(events.WorkflowExecutionFinishedEvent, exec.OrganizationID, exec.WorkflowID),
		ExecutionID:     exec.ID,
		Status:          exec.Status,
		DurationMs:      exec.DurationMs,
		ActionsExecuted: len(exec.ActionsExecuted),
		Error:           exec.ErrorMessage,
	})
}

func (e *Engine) notifySkipped(ctx context.Context, exec *models.WorkflowExecution, reason string) {
	e.publish(ctx, exec, events.WorkflowExecutionSkipped{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionSkippedEvent, exec.OrganizationID, exec.WorkflowID),
		ExecutionID: exec.ID,
		EntityID:    exec.EntityID,
		Reason:      reason,
	})
}
