package engine_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/engine"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/events"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/guard"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/mocks"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	orgID    = "org-1"
	entityID = "case-1"
	ownerID  = "user-1"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type harness struct {
	engine  *engine.Engine
	adapter *mocks.MockAdapter
	store   persistence.Persistence
	clock   *testClock
}

func newHarness(t *testing.T, opts ...engine.Option) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	store := file.NewPersistence(t.TempDir())
	adapter := &mocks.MockAdapter{}

	opts = append([]engine.Option{engine.WithClock(clock.Now)}, opts...)

	return &harness{
		engine:  engine.New(logger, store, adapter, opts...),
		adapter: adapter,
		store:   store,
		clock:   clock,
	}
}

func (h *harness) save(t *testing.T, workflow *models.WorkflowDefinition) {
	t.Helper()

	require.NoError(t, h.store.WorkflowRepository().Save(context.Background(), workflow))
}

func (h *harness) entity(fields map[string]any) {
	h.adapter.On("GetEntity", mock.Anything, "case", entityID).Return(&engine.Entity{
		ID:        entityID,
		Type:      "case",
		OwnerType: engine.OwnerTypeUser,
		OwnerID:   ownerID,
		Fields:    fields,
	}, nil)
	h.adapter.On("IsUserOptedOut", mock.Anything, ownerID, mock.Anything).Return(false, nil).Maybe()
}

func (h *harness) actionsSucceed() {
	h.adapter.On("ExecuteAction", mock.Anything, mock.Anything).Return(engine.ActionOutcome{Success: true})
}

func (h *harness) approvals(taskIDs ...string) *[]engine.ApprovalTaskRequest {
	h.adapter.On("GetApprovableSubject", mock.Anything, "case", mock.Anything).Return(&engine.Subject{
		ID: entityID, Type: "case", OwnerType: engine.OwnerTypeUser, OwnerID: ownerID,
	}, nil).Maybe()

	var requests []engine.ApprovalTaskRequest

	for _, id := range taskIDs {
		h.adapter.On("CreateApprovalTask", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				requests = append(requests, args.Get(1).(engine.ApprovalTaskRequest))
			}).
			Return(&models.ApprovalTask{ID: id, Status: models.TaskStatusPending}, nil).
			Once()
	}

	return &requests
}

func (h *harness) load(t *testing.T, id string) *models.WorkflowExecution {
	t.Helper()

	exec, err := h.store.ExecutionRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return exec
}

func note(content string) models.Action {
	return models.Action{ActionType: models.ActionAddNote, Parameters: map[string]any{"content": content}}
}

func gated(action models.Action) models.Action {
	action.RequiresApproval = true

	return action
}

func definition(id string, triggerType models.TriggerType, actions ...models.Action) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:             id,
		OrganizationID: orgID,
		Name:           "definition " + id,
		Scope:          models.ScopeOrg,
		TriggerType:    triggerType,
		Actions:        actions,
		IsEnabled:      true,
	}
}

func statusChanged() engine.TriggerRequest {
	return engine.TriggerRequest{
		OrganizationID: orgID,
		TriggerType:    models.TriggerStatusChanged,
		EntityType:     "case",
		EntityID:       entityID,
		EventData:      map[string]any{"to_status": "qualified"},
		EntityOwnerID:  ownerID,
	}
}

func approvedTask(req engine.ApprovalTaskRequest, id string) models.ApprovalTask {
	return models.ApprovalTask{ID: id, Status: models.TaskStatusCompleted, Payload: req.Payload()}
}

func TestTrigger_ConditionsNotMet(t *testing.T) {
	h := newHarness(t)

	workflow := definition("wf-age", models.TriggerStatusChanged, note("older"))
	workflow.Conditions = []models.Condition{{Field: "age", Operator: models.OpGreaterThan, Value: 30}}
	workflow.ConditionLogic = models.LogicAnd
	h.save(t, workflow)
	h.entity(map[string]any{"age": 25})

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	exec := h.load(t, executions[0].ID)
	assert.Equal(t, models.ExecutionStatusSkipped, exec.Status)
	assert.False(t, exec.MatchedConditions)
	assert.Equal(t, "Conditions not met", exec.ErrorMessage)
	assert.Empty(t, exec.ActionsExecuted)
	h.adapter.AssertNotCalled(t, "ExecuteAction", mock.Anything, mock.Anything)

	stored, err := h.store.WorkflowRepository().GetByID(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.RunCount, "skipped executions do not count as runs")
}

func TestTrigger_RunsActionsInOrder(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-notes", models.TriggerStatusChanged, note("one"), note("two")))
	h.entity(map[string]any{"stage": "new"})
	h.actionsSucceed()

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	exec := h.load(t, executions[0].ID)
	assert.Equal(t, models.ExecutionStatusSuccess, exec.Status)
	assert.True(t, exec.MatchedConditions)
	assert.Equal(t, models.SourceUser, exec.EventSource)
	assert.NotEmpty(t, exec.EventID)
	require.Len(t, exec.ActionsExecuted, 2)
	assert.Equal(t, 0, exec.ActionsExecuted[0].ActionIndex)
	assert.Equal(t, 1, exec.ActionsExecuted[1].ActionIndex)

	requests := h.adapter.ExecutedActions()
	require.Len(t, requests, 2)
	assert.Equal(t, &models.AddNoteParams{Content: "one"}, requests[0].Params)
	assert.Equal(t, models.ScopeOrg, requests[0].WorkflowScope)

	stored, err := h.store.WorkflowRepository().GetByID(context.Background(), "wf-notes")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RunCount)
	assert.Empty(t, stored.LastError)
	require.NotNil(t, stored.LastRunAt)
}

func TestTrigger_PartialWhenAnActionFails(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-partial", models.TriggerStatusChanged, note("first"), note("second"), note("third")))
	h.entity(map[string]any{})
	h.adapter.On("ExecuteAction", mock.Anything, mock.MatchedBy(func(req engine.ActionRequest) bool {
		return req.ActionIndex == 1
	})).Return(engine.ActionOutcome{Error: "mail server down"})
	h.actionsSucceed()

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	exec := h.load(t, executions[0].ID)
	assert.Equal(t, models.ExecutionStatusPartial, exec.Status)
	require.Len(t, exec.ActionsExecuted, 3, "a failed action does not stop the rest")
	assert.False(t, exec.ActionsExecuted[1].Success)
	assert.Equal(t, "mail server down", exec.ActionsExecuted[1].Error)
	assert.True(t, exec.ActionsExecuted[2].Success)

	stored, err := h.store.WorkflowRepository().GetByID(context.Background(), "wf-partial")
	require.NoError(t, err)
	assert.Equal(t, "mail server down", stored.LastError)
}

func TestTrigger_PanickingActionIsRecorded(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-panic", models.TriggerStatusChanged, note("boom"), note("after")))
	h.entity(map[string]any{})
	h.adapter.On("ExecuteAction", mock.Anything, mock.MatchedBy(func(req engine.ActionRequest) bool {
		return req.ActionIndex == 0
	})).Panic("nil map")
	h.actionsSucceed()

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	exec := h.load(t, executions[0].ID)
	assert.Equal(t, models.ExecutionStatusPartial, exec.Status)
	require.Len(t, exec.ActionsExecuted, 2)
	assert.Contains(t, exec.ActionsExecuted[0].Error, "nil map")
	assert.True(t, exec.ActionsExecuted[1].Success)
}

func TestTrigger_Approval(t *testing.T) {
	setup := func(t *testing.T) (*harness, *models.WorkflowExecution, *[]engine.ApprovalTaskRequest) {
		h := newHarness(t)

		h.save(t, definition("wf-approve", models.TriggerStatusChanged,
			note("before"), gated(note("gated")), note("after")))
		h.entity(map[string]any{})
		h.actionsSucceed()
		requests := h.approvals("task-1")

		executions, err := h.engine.Trigger(context.Background(), statusChanged())
		require.NoError(t, err)
		require.Len(t, executions, 1)

		return h, h.load(t, executions[0].ID), requests
	}

	t.Run("pauses at the gated action", func(t *testing.T) {
		h, exec, requests := setup(t)

		assert.Equal(t, models.ExecutionStatusPaused, exec.Status)
		require.NotNil(t, exec.PausedAtIndex)
		assert.Equal(t, 1, *exec.PausedAtIndex)
		require.NotNil(t, exec.PausedTaskID)
		assert.Equal(t, "task-1", *exec.PausedTaskID)
		require.Len(t, exec.ActionsExecuted, 1)
		assert.Equal(t, 0, exec.ActionsExecuted[0].ActionIndex)
		assert.True(t, exec.ActionsExecuted[0].Success)

		require.Len(t, *requests, 1)
		req := (*requests)[0]
		assert.Equal(t, ownerID, req.OwnerUserID)
		assert.Equal(t, 1, req.ActionIndex)
		assert.Equal(t, models.ActionAddNote, req.Action.ActionType)
		assert.Equal(t, exec.ID, req.Payload().ExecutionID)

		stored, err := h.store.WorkflowRepository().GetByID(context.Background(), "wf-approve")
		require.NoError(t, err)
		assert.Zero(t, stored.RunCount, "paused executions have not finished")
	})

	t.Run("approved resumes the remaining actions", func(t *testing.T) {
		h, exec, requests := setup(t)

		err := h.engine.ContinueExecution(context.Background(), exec.ID, approvedTask((*requests)[0], "task-1"), models.DecisionApproved)
		require.NoError(t, err)

		exec = h.load(t, exec.ID)
		assert.Contains(t, []models.ExecutionStatus{models.ExecutionStatusSuccess, models.ExecutionStatusPartial}, exec.Status)
		assert.Nil(t, exec.PausedAtIndex)
		assert.Nil(t, exec.PausedTaskID)
		require.Len(t, exec.ActionsExecuted, 3)

		for i, result := range exec.ActionsExecuted {
			assert.Equal(t, i, result.ActionIndex)
		}

		assert.Equal(t, "task-1", exec.ActionsExecuted[1].TaskID)
		assert.Equal(t, &models.AddNoteParams{Content: "gated"}, h.adapter.ExecutedActions()[1].Params)

		stored, err := h.store.WorkflowRepository().GetByID(context.Background(), "wf-approve")
		require.NoError(t, err)
		assert.Equal(t, 1, stored.RunCount)
	})

	t.Run("approved runs the frozen action", func(t *testing.T) {
		h, exec, requests := setup(t)

		// Editing the definition while paused does not change the approved action.
		workflow, err := h.store.WorkflowRepository().GetByID(context.Background(), "wf-approve")
		require.NoError(t, err)
		workflow.Actions[1] = gated(note("edited"))
		h.save(t, workflow)

		err = h.engine.ContinueExecution(context.Background(), exec.ID, approvedTask((*requests)[0], "task-1"), "")
		require.NoError(t, err)

		assert.Equal(t, &models.AddNoteParams{Content: "gated"}, h.adapter.ExecutedActions()[1].Params)
	})

	t.Run("denied cancels with the reason", func(t *testing.T) {
		h, exec, _ := setup(t)

		task := models.ApprovalTask{ID: "task-1", Status: models.TaskStatusDenied, DenialReason: "client declined"}
		require.NoError(t, h.engine.ContinueExecution(context.Background(), exec.ID, task, models.DecisionDenied))

		exec = h.load(t, exec.ID)
		assert.Equal(t, models.ExecutionStatusCanceled, exec.Status)
		assert.Contains(t, exec.ErrorMessage, "client declined")
		require.Len(t, exec.ActionsExecuted, 2)
		assert.True(t, exec.ActionsExecuted[1].Skipped)
		assert.Nil(t, exec.PausedTaskID)
		h.adapter.AssertNumberOfCalls(t, "ExecuteAction", 1)
	})

	t.Run("expired marks the execution expired", func(t *testing.T) {
		h, exec, _ := setup(t)

		task := models.ApprovalTask{ID: "task-1", Status: models.TaskStatusExpired}
		require.NoError(t, h.engine.ContinueExecution(context.Background(), exec.ID, task, ""))

		exec = h.load(t, exec.ID)
		assert.Equal(t, models.ExecutionStatusExpired, exec.Status)
		assert.Equal(t, "Approval timed out", exec.ErrorMessage)
	})

	t.Run("pending task fails the execution", func(t *testing.T) {
		h, exec, _ := setup(t)

		task := models.ApprovalTask{ID: "task-1", Status: models.TaskStatusPending}
		require.NoError(t, h.engine.ContinueExecution(context.Background(), exec.ID, task, ""))

		exec = h.load(t, exec.ID)
		assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
		assert.Contains(t, exec.ErrorMessage, "unexpected approval task state")
	})

	t.Run("second resume is a no-op", func(t *testing.T) {
		h, exec, requests := setup(t)
		task := approvedTask((*requests)[0], "task-1")

		require.NoError(t, h.engine.ContinueExecution(context.Background(), exec.ID, task, models.DecisionApproved))
		first := h.load(t, exec.ID)

		require.NoError(t, h.engine.ContinueExecution(context.Background(), exec.ID, task, models.DecisionApproved))
		second := h.load(t, exec.ID)

		assert.Equal(t, first.ActionsExecuted, second.ActionsExecuted)
		h.adapter.AssertNumberOfCalls(t, "ExecuteAction", 3)
	})

	t.Run("concurrent resumes run once", func(t *testing.T) {
		h, exec, requests := setup(t)
		task := approvedTask((*requests)[0], "task-1")

		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				assert.NoError(t, h.engine.ContinueExecution(context.Background(), exec.ID, task, models.DecisionApproved))
			}()
		}
		wg.Wait()

		assert.Len(t, h.load(t, exec.ID).ActionsExecuted, 3)
		h.adapter.AssertNumberOfCalls(t, "ExecuteAction", 3)
	})

	t.Run("resume for another task is ignored", func(t *testing.T) {
		h, exec, _ := setup(t)

		task := models.ApprovalTask{ID: "task-other", Status: models.TaskStatusCompleted}
		require.NoError(t, h.engine.ContinueExecution(context.Background(), exec.ID, task, models.DecisionApproved))

		assert.Equal(t, models.ExecutionStatusPaused, h.load(t, exec.ID).Status)
	})

	t.Run("unknown execution returns an error", func(t *testing.T) {
		h, _, _ := setup(t)

		err := h.engine.ContinueExecution(context.Background(), "missing", models.ApprovalTask{ID: "task-1"}, models.DecisionApproved)
		require.Error(t, err)
		assert.True(t, persistence.IsExecutionNotFound(err))
	})
}

func TestContinueExecution_SecondApprovalPausesAgain(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-two-gates", models.TriggerStatusChanged,
		gated(note("first gate")), note("middle"), gated(note("second gate"))))
	h.entity(map[string]any{})
	h.actionsSucceed()
	requests := h.approvals("task-1", "task-2")

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	id := executions[0].ID
	require.NoError(t, h.engine.ContinueExecution(context.Background(), id, approvedTask((*requests)[0], "task-1"), models.DecisionApproved))

	exec := h.load(t, id)
	assert.Equal(t, models.ExecutionStatusPaused, exec.Status)
	require.NotNil(t, exec.PausedAtIndex)
	assert.Equal(t, 2, *exec.PausedAtIndex)
	assert.Equal(t, "task-2", *exec.PausedTaskID)
	assert.Len(t, exec.ActionsExecuted, 2)

	require.NoError(t, h.engine.ContinueExecution(context.Background(), id, approvedTask((*requests)[1], "task-2"), models.DecisionApproved))

	exec = h.load(t, id)
	assert.Equal(t, models.ExecutionStatusSuccess, exec.Status)
	assert.Len(t, exec.ActionsExecuted, 3)
}

func TestTrigger_ApprovalNeedsUserOwnedSubject(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-queue", models.TriggerStatusChanged, gated(note("gated"))))
	h.entity(map[string]any{})
	h.adapter.On("GetApprovableSubject", mock.Anything, "case", mock.Anything).Return(&engine.Subject{
		ID: entityID, Type: "case", OwnerType: engine.OwnerTypeQueue, OwnerID: "queue-1",
	}, nil)

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	exec := h.load(t, executions[0].ID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "must be owned by a user")
	h.adapter.AssertNotCalled(t, "CreateApprovalTask", mock.Anything, mock.Anything)
}

func TestContinueExecution_DecisionBeforePauseIsWritten(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-fast", models.TriggerStatusChanged, note("before"), gated(note("gated")), note("after")))
	h.entity(map[string]any{})
	h.actionsSucceed()
	h.adapter.On("GetApprovableSubject", mock.Anything, "case", mock.Anything).Return(&engine.Subject{
		ID: entityID, Type: "case", OwnerType: engine.OwnerTypeUser, OwnerID: ownerID,
	}, nil)

	var (
		request  engine.ApprovalTaskRequest
		earlyErr error
	)

	h.adapter.On("CreateApprovalTask", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			request = args.Get(1).(engine.ApprovalTaskRequest)
			earlyErr = h.engine.ContinueExecution(context.Background(), request.Payload().ExecutionID,
				approvedTask(request, "task-fast"), models.DecisionApproved)
		}).
		Return(&models.ApprovalTask{ID: "task-fast", Status: models.TaskStatusPending}, nil).
		Once()

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	require.Error(t, earlyErr)
	assert.ErrorIs(t, earlyErr, engine.ErrExecutionRunning)

	exec := h.load(t, executions[0].ID)
	assert.Equal(t, models.ExecutionStatusPaused, exec.Status)
	require.Len(t, exec.ActionsExecuted, 1)

	err = h.engine.ContinueExecution(context.Background(), exec.ID, approvedTask(request, "task-fast"), models.DecisionApproved)
	require.NoError(t, err)

	exec = h.load(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusSuccess, exec.Status)
	require.Len(t, exec.ActionsExecuted, 3)
	h.adapter.AssertNumberOfCalls(t, "ExecuteAction", 3)
}

func TestTrigger_RowIsRunningWhileActionsExecute(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-running", models.TriggerStatusChanged, note("only")))
	h.entity(map[string]any{})

	var observed models.ExecutionStatus

	h.adapter.On("ExecuteAction", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(engine.ActionRequest)
			observed = h.load(t, req.ExecutionID).Status
		}).
		Return(engine.ActionOutcome{Success: true})

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	assert.Equal(t, models.ExecutionStatusRunning, observed)
	assert.Equal(t, models.ExecutionStatusSuccess, h.load(t, executions[0].ID).Status)
}

type countingCounter struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (c *countingCounter) Acquire(context.Context, guard.Window, int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.acquired++

	return nil
}

func (c *countingCounter) Release(context.Context, guard.Window) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.released++

	return nil
}

type rejectingExecutions struct {
	persistence.ExecutionRepository
}

func (rejectingExecutions) Create(context.Context, *models.WorkflowExecution) error {
	return errors.New("ledger unavailable")
}

type rejectingStore struct {
	persistence.Persistence
}

func (s rejectingStore) ExecutionRepository() persistence.ExecutionRepository {
	return rejectingExecutions{s.Persistence.ExecutionRepository()}
}

func TestTrigger_ReleasesRateSlotWhenFailedRowIsNotRecorded(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	store := file.NewPersistence(t.TempDir())
	adapter := &mocks.MockAdapter{}
	counter := &countingCounter{}

	eng := engine.New(logger, rejectingStore{store}, adapter,
		engine.WithClock(clock.Now), engine.WithRateCounter(counter))

	perHour := 5
	workflow := definition("wf-limited", models.TriggerStatusChanged, gated(note("gated")))
	workflow.RateLimitPerHour = &perHour
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), workflow))

	adapter.On("GetEntity", mock.Anything, "case", entityID).Return(&engine.Entity{
		ID: entityID, Type: "case", OwnerType: engine.OwnerTypeUser, OwnerID: ownerID,
	}, nil)
	adapter.On("IsUserOptedOut", mock.Anything, ownerID, mock.Anything).Return(false, nil).Maybe()
	adapter.On("GetApprovableSubject", mock.Anything, "case", mock.Anything).Return(&engine.Subject{
		ID: entityID, Type: "case", OwnerType: engine.OwnerTypeQueue, OwnerID: "queue-1",
	}, nil)

	executions, err := eng.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	assert.Empty(t, executions)

	counter.mu.Lock()
	defer counter.mu.Unlock()

	assert.Equal(t, 1, counter.acquired)
	assert.Equal(t, 1, counter.released, "an unrecorded attempt gives its slot back")
}

func TestTrigger_ApprovalTaskCreationFails(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-task-fail", models.TriggerStatusChanged, note("before"), gated(note("gated"))))
	h.entity(map[string]any{})
	h.actionsSucceed()
	h.adapter.On("GetApprovableSubject", mock.Anything, "case", mock.Anything).Return(&engine.Subject{
		ID: entityID, Type: "case", OwnerType: engine.OwnerTypeUser, OwnerID: ownerID,
	}, nil)
	h.adapter.On("CreateApprovalTask", mock.Anything, mock.Anything).Return(nil, errors.New("tasks service down"))

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	exec := h.load(t, executions[0].ID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "tasks service down")
	assert.Len(t, exec.ActionsExecuted, 2)
}

func TestTrigger_SweepDedupe(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-sweep", models.TriggerInactivity, note("nudge")))
	h.entity(map[string]any{})
	h.actionsSucceed()

	req := engine.TriggerRequest{
		OrganizationID: orgID,
		TriggerType:    models.TriggerInactivity,
		EntityType:     "case",
		EntityID:       entityID,
		Source:         models.SourceSystem,
	}

	first, err := h.engine.Trigger(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NotNil(t, first[0].DedupeKey)
	assert.Equal(t, "wf-sweep:case-1:inactivity:2026-03-10", *first[0].DedupeKey)

	h.clock.Advance(6 * time.Hour)

	second, err := h.engine.Trigger(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, second)

	h.adapter.AssertNumberOfCalls(t, "ExecuteAction", 1)

	page, err := h.store.ExecutionRepository().List(context.Background(), persistence.ListExecutionsOptions{WorkflowID: "wf-sweep"})
	require.NoError(t, err)
	assert.Len(t, page.Executions, 1)

	h.clock.Advance(12 * time.Hour)

	third, err := h.engine.Trigger(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, third, 1, "a new UTC day has a new dedupe key")
}

func TestTrigger_RateLimits(t *testing.T) {
	t.Run("per hour", func(t *testing.T) {
		h := newHarness(t)

		workflow := definition("wf-hourly", models.TriggerStatusChanged, note("hi"))
		limit := 1
		workflow.RateLimitPerHour = &limit
		h.save(t, workflow)
		h.entity(map[string]any{})
		h.actionsSucceed()

		_, err := h.engine.Trigger(context.Background(), statusChanged())
		require.NoError(t, err)

		h.clock.Advance(10 * time.Minute)

		executions, err := h.engine.Trigger(context.Background(), statusChanged())
		require.NoError(t, err)
		require.Len(t, executions, 1)
		assert.Equal(t, models.ExecutionStatusSkipped, executions[0].Status)
		assert.Equal(t, "rate limit exceeded: 1/1 executions per hour", executions[0].ErrorMessage)

		h.clock.Advance(time.Hour)

		executions, err = h.engine.Trigger(context.Background(), statusChanged())
		require.NoError(t, err)
		require.Len(t, executions, 1)
		assert.Equal(t, models.ExecutionStatusSuccess, executions[0].Status)
		h.adapter.AssertNumberOfCalls(t, "ExecuteAction", 2)
	})

	t.Run("skipped rows do not count", func(t *testing.T) {
		h := newHarness(t)

		workflow := definition("wf-cond", models.TriggerStatusChanged, note("hi"))
		limit := 1
		workflow.RateLimitPerEntityPerDay = &limit
		workflow.Conditions = []models.Condition{{Field: "vip", Operator: models.OpEquals, Value: true}}
		h.save(t, workflow)
		h.entity(map[string]any{"vip": false})

		for range 3 {
			executions, err := h.engine.Trigger(context.Background(), statusChanged())
			require.NoError(t, err)
			require.Len(t, executions, 1)
			assert.Equal(t, "Conditions not met", executions[0].ErrorMessage)
		}
	})
}

func TestTrigger_OptedOut(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-opt", models.TriggerStatusChanged, note("hi")))
	h.adapter.On("GetEntity", mock.Anything, "case", entityID).Return(&engine.Entity{
		ID: entityID, Type: "case", OwnerType: engine.OwnerTypeUser, OwnerID: ownerID,
	}, nil)
	h.adapter.On("IsUserOptedOut", mock.Anything, ownerID, "wf-opt").Return(true, nil)

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusSkipped, executions[0].Status)
	assert.True(t, executions[0].MatchedConditions)
	assert.Equal(t, "Owner opted out of this workflow", executions[0].ErrorMessage)
	h.adapter.AssertNotCalled(t, "ExecuteAction", mock.Anything, mock.Anything)
}

func TestTrigger_EntityNotFound(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-gone", models.TriggerStatusChanged, note("hi")))
	h.adapter.On("GetEntity", mock.Anything, "case", entityID).Return(nil, engine.ErrEntityNotFound)

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	assert.Empty(t, executions)

	page, err := h.store.ExecutionRepository().List(context.Background(), persistence.ListExecutionsOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Executions)
}

func TestTrigger_DepthGuard(t *testing.T) {
	h := newHarness(t)
	h.save(t, definition("wf-depth", models.TriggerStatusChanged, note("hi")))

	req := statusChanged()
	req.Depth = engine.DefaultMaxDepth

	executions, err := h.engine.Trigger(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, executions)

	req = statusChanged()
	req.Depth = 2
	req.Source = models.SourceWorkflow

	executions, err = h.engine.Trigger(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, executions)

	h.adapter.AssertNotCalled(t, "GetEntity", mock.Anything, mock.Anything, mock.Anything)
}

func TestTrigger_InvalidRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Trigger(context.Background(), engine.TriggerRequest{OrganizationID: orgID, TriggerType: "bogus", EntityID: entityID})
	require.ErrorIs(t, err, engine.ErrInvalidTriggerRequest)
}

func TestTrigger_NestedTrigger(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-parent", models.TriggerStatusChanged, note("raise")))
	child := definition("wf-child", models.TriggerEntityUpdated, note("child"))
	child.TriggerConfig = map[string]any{"fields": []any{"stage"}}
	h.save(t, child)

	h.entity(map[string]any{})

	var nested []*models.WorkflowExecution

	h.adapter.On("ExecuteAction", mock.Anything, mock.MatchedBy(func(req engine.ActionRequest) bool {
		return req.WorkflowID == "wf-parent"
	})).Run(func(args mock.Arguments) {
		req := args.Get(1).(engine.ActionRequest)

		var err error
		nested, err = req.Trigger(args.Get(0).(context.Context), engine.TriggerRequest{
			TriggerType: models.TriggerEntityUpdated,
			EntityType:  "case",
			EntityID:    entityID,
			EventData:   map[string]any{"changed_fields": []string{"stage"}},
			// The engine overrides both.
			Depth:  0,
			Source: models.SourceUser,
		})
		require.NoError(t, err)
	}).Return(engine.ActionOutcome{Success: true})
	h.actionsSucceed()

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.Len(t, nested, 1)

	assert.Equal(t, "wf-child", nested[0].WorkflowID)
	assert.Equal(t, 1, nested[0].Depth)
	assert.Equal(t, models.SourceWorkflow, nested[0].EventSource)
	assert.Equal(t, executions[0].EventID, nested[0].EventID)
	assert.Equal(t, orgID, nested[0].OrganizationID)

	page, err := h.store.ExecutionRepository().List(context.Background(), persistence.ListExecutionsOptions{EventID: executions[0].EventID})
	require.NoError(t, err)
	assert.Len(t, page.Executions, 2)
}

func TestTrigger_ActionBudget(t *testing.T) {
	h := newHarness(t, engine.WithMaxActionsPerCall(2))

	h.save(t, definition("wf-budget", models.TriggerStatusChanged, note("1"), note("2"), note("3")))
	h.entity(map[string]any{})
	h.actionsSucceed()

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	exec := h.load(t, executions[0].ID)
	assert.Equal(t, models.ExecutionStatusPartial, exec.Status)
	require.Len(t, exec.ActionsExecuted, 3)
	assert.Equal(t, "action budget exhausted", exec.ActionsExecuted[2].Error)
	h.adapter.AssertNumberOfCalls(t, "ExecuteAction", 2)
}

func TestExpireStale(t *testing.T) {
	h := newHarness(t)

	h.save(t, definition("wf-stale", models.TriggerStatusChanged, gated(note("gated"))))
	h.entity(map[string]any{})
	h.approvals("task-1")

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)

	expired, err := h.engine.ExpireStale(context.Background(), 72*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, expired)

	h.clock.Advance(73 * time.Hour)

	expired, err = h.engine.ExpireStale(context.Background(), 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	exec := h.load(t, executions[0].ID)
	assert.Equal(t, models.ExecutionStatusExpired, exec.Status)
	assert.Equal(t, "Approval timed out", exec.ErrorMessage)
}

func TestExpireStale_PagesPastFailingRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.save(t, definition("wf-stale", models.TriggerStatusChanged, gated(note("gated"))))
	h.entity(map[string]any{})
	h.adapter.On("GetEntity", mock.Anything, "case", mock.MatchedBy(func(id string) bool {
		return strings.HasPrefix(id, "broken-")
	})).Return(nil, errors.New("crm unavailable"))

	repo := h.store.ExecutionRepository()
	oldest := h.clock.Now().Add(-100 * time.Hour)

	stale := func(id, entity string, pausedAt time.Time) {
		exec := &models.WorkflowExecution{
			ID:          id,
			WorkflowID:  "wf-stale",
			EventID:     "event-" + id,
			EventSource: models.SourceUser,
			TriggerType: models.TriggerStatusChanged,
			EntityType:  "case",
			EntityID:    entity,
			ExecutedAt:  pausedAt,
		}
		exec.Pause(0, "task-"+id, pausedAt)
		require.NoError(t, repo.Create(ctx, exec))
	}

	const broken = 105

	for i := range broken {
		stale(fmt.Sprintf("broken-%03d", i), fmt.Sprintf("broken-%03d", i), oldest.Add(time.Duration(i)*time.Second))
	}

	for i := range 5 {
		stale(fmt.Sprintf("healthy-%d", i), entityID, oldest.Add(time.Hour))
	}

	examined, err := h.engine.ExpireStale(ctx, 72*time.Hour)
	require.Error(t, err)
	assert.ErrorContains(t, err, "crm unavailable")
	assert.Equal(t, broken+5, examined)

	for i := range 5 {
		exec := h.load(t, fmt.Sprintf("healthy-%d", i))
		assert.Equal(t, models.ExecutionStatusExpired, exec.Status)
	}

	assert.Equal(t, models.ExecutionStatusPaused, h.load(t, "broken-000").Status)
}

func TestTrigger_PublishesLifecycleEvents(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))

	h := newHarness(t, engine.WithPublisher(bus))

	h.save(t, definition("wf-events", models.TriggerStatusChanged, note("before"), gated(note("gated"))))
	h.entity(map[string]any{})
	h.actionsSucceed()
	requests := h.approvals("task-1")

	executions, err := h.engine.Trigger(context.Background(), statusChanged())
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.NoError(t, h.engine.ContinueExecution(context.Background(), executions[0].ID, approvedTask((*requests)[0], "task-1"), ""))

	published := bus.Published()
	require.Len(t, published, 3)
	assert.Equal(t, events.WorkflowExecutionPausedEvent, published[0].GetType())
	assert.Equal(t, events.WorkflowExecutionResumedEvent, published[1].GetType())
	assert.Equal(t, events.WorkflowExecutionFinishedEvent, published[2].GetType())

	finished := published[2].(events.WorkflowExecutionFinished)
	assert.Equal(t, models.ExecutionStatusSuccess, finished.Status)
	assert.Equal(t, 2, finished.ActionsExecuted)
}
