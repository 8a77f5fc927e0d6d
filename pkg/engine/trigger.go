package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/condition"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/guard"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/metrics"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/otelhelper"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// Skip messages stored on SKIPPED and FAILED ledger rows.
const (
	msgConditionsNotMet = "Conditions not met"
	msgOptedOut         = "Owner opted out of this workflow"
)

// TriggerRequest is one domain event offered to the engine.
type TriggerRequest struct {
	OrganizationID string
	TriggerType    models.TriggerType
	EntityType     string
	EntityID       string
	EventData      map[string]any

	// EventID correlates every execution caused by one root event. Generated when empty.
	EventID string
	Depth   int
	Source  models.EventSource // Defaults to SourceUser

	EntityOwnerID     string
	TriggeredByUserID string
}

func (r *TriggerRequest) normalize() error {
	if r.OrganizationID == "" || r.EntityID == "" || !r.TriggerType.Valid() {
		return fmt.Errorf("%w: organization, entity and a known trigger type are required", ErrInvalidTriggerRequest)
	}

	if r.EventID == "" {
		r.EventID = newID()
	}

	if r.Source == "" {
		r.Source = models.SourceUser
	}

	return nil
}

// Trigger applies every matching enabled definition to the event and returns the ledger rows it
// created, skipped rows included. Failures of a single definition are logged and never abort the
// others. An error is returned only for a malformed request or when matching itself fails.
func (e *Engine) Trigger(ctx context.Context, req TriggerRequest) ([]*models.WorkflowExecution, error) {
	return e.trigger(ctx, req, newActionBudget(e.maxActionsPerCall))
}

func (e *Engine) trigger(ctx context.Context, req TriggerRequest, budget *actionBudget) ([]*models.WorkflowExecution, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	if req.Depth >= e.maxDepth {
		e.logger.WarnContext(ctx, "ignoring event at maximum depth",
			"event_id", req.EventID, "depth", req.Depth, "trigger_type", req.TriggerType)

		return nil, nil
	}

	if req.Source == models.SourceWorkflow && req.Depth > 1 {
		e.logger.DebugContext(ctx, "ignoring nested workflow event",
			"event_id", req.EventID, "depth", req.Depth, "trigger_type", req.TriggerType)

		return nil, nil
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.trigger",
		attribute.String(otelhelper.OrganizationIDKey, req.OrganizationID),
		attribute.String(otelhelper.TriggerTypeKey, string(req.TriggerType)),
		attribute.String(otelhelper.EntityTypeKey, req.EntityType),
		attribute.String(otelhelper.EntityIDKey, req.EntityID),
		attribute.String(otelhelper.EventIDKey, req.EventID),
		attribute.Int(otelhelper.DepthKey, req.Depth),
	)
	defer span.End()

	workflows, err := e.matcher.FindMatching(ctx, req.OrganizationID, req.TriggerType, req.EventData, req.EntityOwnerID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0, len(workflows))

	for _, workflow := range workflows {
		exec := e.apply(ctx, req, workflow, budget)
		if exec != nil {
			executions = append(executions, exec)
		}
	}

	span.SetAttributes(attribute.Int("caseflow.executions", len(executions)))

	return executions, nil
}

// apply runs one definition against the event. It returns nil when no ledger row was written.
func (e *Engine) apply(ctx context.Context, req TriggerRequest, workflow *models.WorkflowDefinition, budget *actionBudget) *models.WorkflowExecution {
	started := e.now()
	logger := e.logger.With("workflow_id", workflow.ID, "event_id", req.EventID, "entity_id", req.EntityID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.apply",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
	)
	defer span.End()

	dedupeKey := guard.DedupeKey(workflow, req.EntityID, started)

	duplicate, err := e.guard.IsDuplicate(ctx, dedupeKey)
	if err != nil {
		logger.ErrorContext(ctx, "dedupe check failed", "error", err)
		otelhelper.SetError(span, err)

		return nil
	}

	if duplicate {
		logger.InfoContext(ctx, "skipping duplicate sweep execution", "dedupe_key", *dedupeKey)
		e.metrics.Skip(metrics.SkipDuplicate)

		return nil
	}

	exec := &models.WorkflowExecution{
		ID:                newID(),
		WorkflowID:        workflow.ID,
		OrganizationID:    workflow.OrganizationID,
		EventID:           req.EventID,
		Depth:             req.Depth,
		EventSource:       req.Source,
		TriggerType:       req.TriggerType,
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		TriggerEvent:      maps.Clone(req.EventData),
		DedupeKey:         dedupeKey,
		ActionsExecuted:   []models.ActionResult{},
		TriggeredByUserID: req.TriggeredByUserID,
		ExecutedAt:        started,
	}

	if err := e.guard.CheckRateLimits(ctx, workflow, req.EntityID, started); err != nil {
		rateErr, ok := guard.IsRateLimitExceeded(err)
		if !ok {
			logger.ErrorContext(ctx, "rate limit check failed", "error", err)
			otelhelper.SetError(span, err)

			return nil
		}

		reason := metrics.SkipRateLimitHour
		if rateErr.Scope == guard.ScopeDay {
			reason = metrics.SkipRateLimitDay
		}

		return e.skip(ctx, workflow, exec, rateErr.Error(), reason)
	}

	entity, err := e.adapter.GetEntity(ctx, req.EntityType, req.EntityID)
	if err != nil || entity == nil {
		e.guard.Release(ctx, workflow, req.EntityID, started)

		if err == nil || IsEntityNotFound(err) {
			logger.WarnContext(ctx, "entity not found, skipping workflow", "entity_type", req.EntityType)
		} else {
			logger.ErrorContext(ctx, "failed to load entity", "entity_type", req.EntityType, "error", err)
			otelhelper.SetError(span, err)
		}

		return nil
	}

	if !condition.Evaluate(workflow.Conditions, workflow.Logic(), entity.Fields) {
		e.guard.Release(ctx, workflow, req.EntityID, started)

		return e.skip(ctx, workflow, exec, msgConditionsNotMet, metrics.SkipConditions)
	}

	exec.MatchedConditions = true

	optedOut, err := e.isOptedOut(ctx, entity, workflow.ID)
	if err != nil {
		e.guard.Release(ctx, workflow, req.EntityID, started)
		logger.ErrorContext(ctx, "opt-out check failed", "error", err)
		otelhelper.SetError(span, err)

		return nil
	}

	if optedOut {
		e.guard.Release(ctx, workflow, req.EntityID, started)

		return e.skip(ctx, workflow, exec, msgOptedOut, metrics.SkipOptedOut)
	}

	run := &runState{
		workflow: workflow,
		exec:     exec,
		entity:   entity,
		budget:   budget,
		started:  started,
	}

	if workflow.RequiresApproval() {
		subject, err := e.approvalSubject(ctx, req.EntityType, entity)
		if err != nil {
			exec.Status = models.ExecutionStatusFailed
			exec.ErrorMessage = err.Error()
			exec.DurationMs = e.now().Sub(started).Milliseconds()

			if createErr := e.executions.Create(ctx, exec); createErr != nil {
				e.guard.Release(ctx, workflow, req.EntityID, started)
				logger.ErrorContext(ctx, "failed to record execution", "error", createErr)
				otelhelper.SetError(span, createErr)

				return nil
			}

			logger.WarnContext(ctx, "workflow requires approval but has no valid subject", "error", err)
			e.report(ctx, exec, false)

			return exec
		}

		run.subject = subject
	}

	exec.Status = models.ExecutionStatusRunning

	if err := e.executions.Create(ctx, exec); err != nil {
		e.guard.Release(ctx, workflow, req.EntityID, started)

		if persistence.IsDuplicateDedupeKey(err) {
			logger.InfoContext(ctx, "skipping duplicate sweep execution", "dedupe_key", *dedupeKey)
			e.metrics.Skip(metrics.SkipDuplicate)
		} else {
			logger.ErrorContext(ctx, "failed to record execution", "error", err)
			otelhelper.SetError(span, err)
		}

		return nil
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, exec.ID))

	paused := e.runActions(ctx, run, 0)
	e.finalize(run, paused)

	if err := e.executions.Update(ctx, exec); err != nil {
		logger.ErrorContext(ctx, "failed to update execution", "execution_id", exec.ID, "error", err)
	}

	e.report(ctx, exec, true)

	return exec
}

func (e *Engine) skip(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	exec *models.WorkflowExecution,
	message, reason string,
) *models.WorkflowExecution {
	exec.Status = models.ExecutionStatusSkipped
	exec.ErrorMessage = message
	exec.DurationMs = e.now().Sub(exec.ExecutedAt).Milliseconds()

	if err := e.executions.Create(ctx, exec); err != nil {
		e.logger.ErrorContext(ctx, "failed to record skipped execution",
			"workflow_id", workflow.ID, "reason", reason, "error", err)

		return nil
	}

	e.logger.InfoContext(ctx, "workflow skipped",
		"workflow_id", workflow.ID, "execution_id", exec.ID, "reason", reason)

	e.metrics.Skip(reason)
	e.metrics.Execution(string(exec.TriggerType), string(exec.Status), time.Duration(exec.DurationMs)*time.Millisecond)
	e.notifySkipped(ctx, exec, reason)

	return exec
}

func (e *Engine) isOptedOut(ctx context.Context, entity *Entity, workflowID string) (bool, error) {
	if entity.OwnerType != OwnerTypeUser || entity.OwnerID == "" {
		return false, nil
	}

	return e.adapter.IsUserOptedOut(ctx, entity.OwnerID, workflowID)
}

// approvalSubject resolves the user-owned record an approval attaches to.
func (e *Engine) approvalSubject(ctx context.Context, entityType string, entity *Entity) (*Subject, error) {
	subject, err := e.adapter.GetApprovableSubject(ctx, entityType, entity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidApprovalSubject, err)
	}

	if subject == nil {
		return nil, fmt.Errorf("%w: no record to attach the approval to", ErrInvalidApprovalSubject)
	}

	if subject.OwnerType != OwnerTypeUser || subject.OwnerID == "" {
		return nil, fmt.Errorf("%w: %s %s must be owned by a user to resolve approvals",
			ErrInvalidApprovalSubject, subject.Type, subject.ID)
	}

	return subject, nil
}

// finalize computes the outcome of an action pass: the accumulated duration and, unless the
// execution paused or failed, SUCCESS or PARTIAL.
func (e *Engine) finalize(run *runState, paused bool) {
	exec := run.exec
	exec.DurationMs += e.now().Sub(run.started).Milliseconds()

	if paused || exec.Status == models.ExecutionStatusFailed {
		return
	}

	exec.Status = models.ExecutionStatusSuccess
	if !exec.AllSucceeded() {
		exec.Status = models.ExecutionStatusPartial
	}
}

// report runs once the row is persisted. ranActions updates the definition's run statistics.
func (e *Engine) report(ctx context.Context, exec *models.WorkflowExecution, ranActions bool) {
	if exec.Status == models.ExecutionStatusPaused {
		e.logger.InfoContext(ctx, "workflow paused for approval",
			"workflow_id", exec.WorkflowID, "execution_id", exec.ID, "action_index", *exec.PausedAtIndex)
		e.notifyPaused(ctx, exec)

		return
	}

	if ranActions {
		err := e.workflows.RecordRun(ctx, exec.WorkflowID, e.now(), firstError(exec))
		if err != nil && !errors.Is(err, persistence.ErrWorkflowNotFound) {
			e.logger.ErrorContext(ctx, "failed to record workflow run", "workflow_id", exec.WorkflowID, "error", err)
		}
	}

	e.logger.InfoContext(ctx, "workflow execution finished",
		"workflow_id", exec.WorkflowID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"actions", len(exec.ActionsExecuted))

	e.metrics.Execution(string(exec.TriggerType), string(exec.Status), time.Duration(exec.DurationMs)*time.Millisecond)
	e.notifyFinished(ctx, exec)
}

func firstError(exec *models.WorkflowExecution) string {
	if exec.ErrorMessage != "" {
		return exec.ErrorMessage
	}

	for _, result := range exec.ActionsExecuted {
		if !result.Success && result.Error != "" {
			return result.Error
		}
	}

	return ""
}
