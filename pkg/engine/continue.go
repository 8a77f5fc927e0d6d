package engine

import (
	"context"
	"fmt"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/otelhelper"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

const (
	msgApprovalTimedOut = "Approval timed out"
	msgWorkflowDeleted  = "Workflow definition no longer exists"
	msgEntityNotFound   = "Entity not found"
	msgNoReasonGiven    = "no reason given"
)

// ContinueExecution resumes a paused execution with the decision on its approval task. The row is
// locked for the whole resume so concurrent deliveries of the same decision run it once; a resume
// of an execution that is no longer paused, or waits on another task, is a logged no-op. A resume
// that arrives while the triggering call is still running returns ErrExecutionRunning.
//
// An empty decision is derived from the task status.
func (e *Engine) ContinueExecution(ctx context.Context, executionID string, task models.ApprovalTask, decision models.Decision) error {
	if decision == "" {
		decision = models.DecisionFromTaskStatus(task.Status)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.continue_execution",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.DecisionKey, string(decision)),
	)
	defer span.End()

	var (
		resumed    *models.WorkflowExecution
		pauseMs    int64
		ranActions bool
	)

	err := e.executions.WithLock(ctx, executionID, func(ctx context.Context, exec *models.WorkflowExecution) (bool, error) {
		if exec.Status == models.ExecutionStatusRunning {
			return false, fmt.Errorf("%w: %s", ErrExecutionRunning, exec.ID)
		}

		if exec.Status != models.ExecutionStatusPaused {
			e.logger.WarnContext(ctx, "ignoring resume of execution that is not paused",
				"execution_id", exec.ID, "status", exec.Status, "task_id", task.ID)

			return false, nil
		}

		if exec.PausedTaskID == nil || *exec.PausedTaskID != task.ID {
			e.logger.WarnContext(ctx, "ignoring resume for a task the execution does not wait on",
				"execution_id", exec.ID, "task_id", task.ID)

			return false, nil
		}

		started := e.now()
		pausedAt := *exec.PausedAtIndex

		if exec.PausedAt != nil {
			pauseMs = started.Sub(*exec.PausedAt).Milliseconds()
		}

		workflow, err := e.workflows.GetByID(ctx, exec.WorkflowID)
		if err != nil {
			if !persistence.IsWorkflowNotFound(err) {
				return false, err
			}

			failExecution(exec, msgWorkflowDeleted)
			resumed = exec

			return true, nil
		}

		entity, err := e.adapter.GetEntity(ctx, exec.EntityType, exec.EntityID)
		if err != nil && !IsEntityNotFound(err) {
			return false, fmt.Errorf("failed to load entity %s: %w", exec.EntityID, err)
		}

		if entity == nil {
			failExecution(exec, msgEntityNotFound)
			resumed = exec

			return true, nil
		}

		run := &runState{
			workflow: workflow,
			exec:     exec,
			entity:   entity,
			budget:   newActionBudget(e.maxActionsPerCall),
			started:  started,
		}

		exec.ClearPause()
		e.metrics.Approval(string(decision))

		switch decision {
		case models.DecisionApproved:
			action := task.Payload.Action
			if action.ActionType == "" && pausedAt < len(workflow.Actions) {
				action = workflow.Actions[pausedAt]
			}

			exec.ActionsExecuted = append(exec.ActionsExecuted, e.executeAction(ctx, run, pausedAt, action, task.ID))
			exec.Status = models.ExecutionStatusSuccess
			e.finalize(run, e.runActions(ctx, run, pausedAt+1))

			resumed = exec
			ranActions = true

			return true, nil
		case models.DecisionDenied:
			reason := task.DenialReason
			if reason == "" {
				reason = msgNoReasonGiven
			}

			exec.ActionsExecuted = append(exec.ActionsExecuted, models.ActionResult{
				ActionIndex: pausedAt,
				ActionType:  gatedActionType(task, workflow, pausedAt),
				Skipped:     true,
				Error:       "Denied: " + reason,
				TaskID:      task.ID,
				ExecutedAt:  started,
			})
			exec.Status = models.ExecutionStatusCanceled
			exec.ErrorMessage = "Approval denied: " + reason
		case models.DecisionExpired:
			exec.ActionsExecuted = append(exec.ActionsExecuted, models.ActionResult{
				ActionIndex: pausedAt,
				ActionType:  gatedActionType(task, workflow, pausedAt),
				Skipped:     true,
				Error:       "Approval expired",
				TaskID:      task.ID,
				ExecutedAt:  started,
			})
			exec.Status = models.ExecutionStatusExpired
			exec.ErrorMessage = msgApprovalTimedOut
		default:
			exec.Status = models.ExecutionStatusFailed
			exec.ErrorMessage = fmt.Sprintf("%v: %q", ErrUnexpectedTaskState, task.Status)
		}

		exec.DurationMs += e.now().Sub(started).Milliseconds()
		resumed = exec

		return true, nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to continue execution %s: %w", executionID, err)
	}

	if resumed == nil {
		return nil
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(resumed.Status)))

	e.logger.InfoContext(ctx, "execution resumed",
		"execution_id", resumed.ID,
		"workflow_id", resumed.WorkflowID,
		"decision", decision,
		"status", resumed.Status)

	e.notifyResumed(ctx, resumed, decision, pauseMs)
	e.report(ctx, resumed, ranActions)

	return nil
}

func failExecution(exec *models.WorkflowExecution, message string) {
	exec.ClearPause()
	exec.Status = models.ExecutionStatusFailed
	exec.ErrorMessage = message
}

func gatedActionType(task models.ApprovalTask, workflow *models.WorkflowDefinition, index int) models.ActionType {
	if task.Payload.Action.ActionType != "" {
		return task.Payload.Action.ActionType
	}

	if index < len(workflow.Actions) {
		return workflow.Actions[index].ActionType
	}

	return ""
}
