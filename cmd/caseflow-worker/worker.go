package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/engine"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/eventbus"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/events"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// Runner is the part of the engine the worker drives.
type Runner interface {
	Trigger(ctx context.Context, req engine.TriggerRequest) ([]*models.WorkflowExecution, error)
	ContinueExecution(ctx context.Context, executionID string, task models.ApprovalTask, decision models.Decision) error
	ExpireStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// Worker consumes domain events and approval decisions from the bus and periodically expires
// approvals nobody answered.
type Worker struct {
	runner      Runner
	subscriber  eventbus.EventSubscriber
	logger      *slog.Logger
	approvalTTL time.Duration
	schedule    string
	cron        *cron.Cron
}

func NewWorker(
	logger *slog.Logger,
	runner Runner,
	subscriber eventbus.EventSubscriber,
	approvalTTL time.Duration,
	schedule string,
) *Worker {
	return &Worker{
		runner:      runner,
		subscriber:  subscriber,
		logger:      logger,
		approvalTTL: approvalTTL,
		schedule:    schedule,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}
}

// Start registers the handlers, subscribes and schedules the expiry sweep. It does not block.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting caseflow worker")

	if err := w.subscriber.Handle(events.DomainEventType, w.handleDomainEvent); err != nil {
		return err
	}

	if err := w.subscriber.Handle(events.ApprovalResolvedEvent, w.handleApprovalResolved); err != nil {
		return err
	}

	if err := w.subscriber.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.approvalTTL > 0 {
		_, err := w.cron.AddFunc(w.schedule, func() { w.expire(ctx) })
		if err != nil {
			return fmt.Errorf("invalid expiry schedule %q: %w", w.schedule, err)
		}

		w.cron.Start()
	}

	w.logger.InfoContext(ctx, "Worker started successfully",
		"approval_ttl", w.approvalTTL, "expiry_schedule", w.schedule)

	return nil
}

// Stop waits for a running expiry sweep to finish.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
}

func (w *Worker) handleDomainEvent(ctx context.Context, event any) error {
	domainEvent, ok := event.(*events.DomainEvent)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for domain event")

		return nil
	}

	logger := w.logger.With(
		"trigger_type", domainEvent.TriggerType,
		"entity_type", domainEvent.EntityType,
		"entity_id", domainEvent.EntityID,
		"event_id", domainEvent.EventID,
	)

	executions, err := w.runner.Trigger(ctx, engine.TriggerRequest{
		OrganizationID:    domainEvent.OrganizationID,
		TriggerType:       domainEvent.TriggerType,
		EntityType:        domainEvent.EntityType,
		EntityID:          domainEvent.EntityID,
		EventData:         domainEvent.EventData,
		EventID:           domainEvent.EventID,
		Depth:             domainEvent.Depth,
		Source:            domainEvent.Source,
		EntityOwnerID:     domainEvent.EntityOwnerID,
		TriggeredByUserID: domainEvent.UserID,
	})
	if err != nil {
		if errors.Is(err, engine.ErrInvalidTriggerRequest) {
			logger.WarnContext(ctx, "Dropping malformed domain event", "error", err)

			return nil
		}

		logger.ErrorContext(ctx, "Failed to trigger workflows", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Processed domain event", "executions", len(executions))

	return nil
}

func (w *Worker) handleApprovalResolved(ctx context.Context, event any) error {
	resolved, ok := event.(*events.ApprovalResolved)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for approval resolved")

		return nil
	}

	logger := w.logger.With("execution_id", resolved.ExecutionID, "task_id", resolved.Task.ID)

	err := w.runner.ContinueExecution(ctx, resolved.ExecutionID, resolved.Task, resolved.Decision)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			logger.WarnContext(ctx, "Dropping decision for unknown execution")

			return nil
		}

		logger.ErrorContext(ctx, "Failed to continue execution", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Applied approval decision", "decision", resolved.Decision)

	return nil
}

func (w *Worker) expire(ctx context.Context) {
	count, err := w.runner.ExpireStale(ctx, w.approvalTTL)
	if err != nil {
		w.logger.ErrorContext(ctx, "Expiry sweep finished with errors", "examined", count, "error", err)

		return
	}

	w.logger.DebugContext(ctx, "Expiry sweep finished", "examined", count)
}
