package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// runState is the state of one pass over a definition's actions.
type runState struct {
	workflow *models.WorkflowDefinition
	exec     *models.WorkflowExecution
	entity   *Entity
	subject  *Subject // Resolved lazily on resume
	budget   *actionBudget
	started  time.Time
}

// runActions executes the actions of the definition starting at index from. It stops at the
// first approval-gated action, opens its approval task and reports true with the execution
// paused. A failure to open the task marks the execution FAILED.
func (e *Engine) runActions(ctx context.Context, run *runState, from int) (paused bool) {
	for index := from; index < len(run.workflow.Actions); index++ {
		action := run.workflow.Actions[index]

		if !action.RequiresApproval {
			run.exec.ActionsExecuted = append(run.exec.ActionsExecuted, e.executeAction(ctx, run, index, action, ""))

			continue
		}

		task, err := e.openApproval(ctx, run, index, action)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to open approval task",
				"workflow_id", run.workflow.ID, "execution_id", run.exec.ID, "action_index", index, "error", err)

			run.exec.ActionsExecuted = append(run.exec.ActionsExecuted, models.ActionResult{
				ActionIndex: index,
				ActionType:  action.ActionType,
				Error:       err.Error(),
				ExecutedAt:  e.now(),
			})
			run.exec.Status = models.ExecutionStatusFailed
			run.exec.ErrorMessage = err.Error()

			return false
		}

		run.exec.Pause(index, task.ID, e.now())

		return true
	}

	return false
}

func (e *Engine) openApproval(ctx context.Context, run *runState, index int, action models.Action) (*models.ApprovalTask, error) {
	if run.subject == nil {
		subject, err := e.approvalSubject(ctx, run.exec.EntityType, run.entity)
		if err != nil {
			return nil, err
		}

		run.subject = subject
	}

	frozen, err := action.Snapshot()
	if err != nil {
		return nil, err
	}

	task, err := e.adapter.CreateApprovalTask(ctx, ApprovalTaskRequest{
		Workflow:          run.workflow,
		Execution:         run.exec,
		Action:            frozen,
		ActionIndex:       index,
		Entity:            run.entity,
		Subject:           run.subject,
		OwnerUserID:       run.subject.OwnerID,
		TriggeredByUserID: run.exec.TriggeredByUserID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrApprovalTaskCreation, err)
	}

	if task == nil || task.ID == "" {
		return nil, fmt.Errorf("%w: adapter returned no task", ErrApprovalTaskCreation)
	}

	return task, nil
}

// executeAction hands one action to the adapter. It never fails the pass: parameter errors,
// an exhausted budget and adapter panics all become failed results.
func (e *Engine) executeAction(ctx context.Context, run *runState, index int, action models.Action, taskID string) (result models.ActionResult) {
	result = models.ActionResult{
		ActionIndex: index,
		ActionType:  action.ActionType,
		TaskID:      taskID,
		ExecutedAt:  e.now(),
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.action",
		attribute.String(otelhelper.ExecutionIDKey, run.exec.ID),
		attribute.Int(otelhelper.ActionIndexKey, index),
		attribute.String(otelhelper.ActionTypeKey, string(action.ActionType)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("action panicked: %v", r)
			e.logger.ErrorContext(ctx, "action panicked",
				"workflow_id", run.workflow.ID, "execution_id", run.exec.ID, "action_index", index, "panic", r)
		}

		if !result.Success {
			otelhelper.SetError(span, fmt.Errorf("%s", result.Error))
		}

		e.metrics.Action(string(action.ActionType), result.Success)
	}()

	if !run.budget.take() {
		result.Error = ErrActionBudgetExhausted.Error()

		return result
	}

	params, err := action.Params()
	if err != nil {
		result.Error = err.Error()

		return result
	}

	outcome := e.adapter.ExecuteAction(ctx, ActionRequest{
		WorkflowID:      run.workflow.ID,
		ExecutionID:     run.exec.ID,
		ActionIndex:     index,
		Action:          action,
		Params:          params,
		Entity:          run.entity,
		EntityType:      run.exec.EntityType,
		EventID:         run.exec.EventID,
		Depth:           run.exec.Depth,
		WorkflowScope:   run.workflow.Scope,
		WorkflowOwnerID: run.workflow.OwnerUserID,
		Trigger:         e.nestedTrigger(run),
	})

	result.Success = outcome.Success
	result.Error = outcome.Error
	result.Output = outcome.Output

	if !result.Success && result.Error == "" {
		result.Error = "action failed"
	}

	return result
}

// nestedTrigger builds the callback actions use to raise follow-up events. Nested events share
// the root event id and the action budget of the call that caused them.
func (e *Engine) nestedTrigger(run *runState) TriggerFunc {
	return func(ctx context.Context, req TriggerRequest) ([]*models.WorkflowExecution, error) {
		req.Depth = run.exec.Depth + 1
		req.Source = models.SourceWorkflow

		if req.EventID == "" {
			req.EventID = run.exec.EventID
		}

		if req.OrganizationID == "" {
			req.OrganizationID = run.exec.OrganizationID
		}

		return e.trigger(ctx, req, run.budget)
	}
}
