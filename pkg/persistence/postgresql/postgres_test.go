package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"workflow_executions", "workflow_definitions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("caseflow_test"),
			postgres.WithUsername("caseflow"),
			postgres.WithPassword("caseflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	persistence, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = persistence.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return persistence, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflow_definitions", "workflow_executions", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func newDefinition(orgID string, trigger models.TriggerType) *models.WorkflowDefinition {
	perHour := 5

	return &models.WorkflowDefinition{
		OrganizationID: orgID,
		Name:           "Approval follow-up",
		Scope:          models.ScopeOrg,
		TriggerType:    trigger,
		TriggerConfig:  map[string]any{"to_status": "approved"},
		Conditions: []models.Condition{
			{Field: "state", Operator: models.OpIn, Value: []any{"CA", "NY"}},
		},
		ConditionLogic: models.LogicAnd,
		Actions: []models.Action{
			{ActionType: models.ActionAddNote, Parameters: map[string]any{"content": "hi"}},
			{ActionType: models.ActionSendEmail, Parameters: map[string]any{"template_id": "t1"}, RequiresApproval: true},
		},
		IsEnabled:        true,
		RateLimitPerHour: &perHour,
	}
}

func TestWorkflowRepository_CRUD(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := newDefinition("org-1", models.TriggerStatusChanged)
	require.NoError(t, repo.Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID)

	retrieved, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, retrieved.Name)
	assert.Equal(t, "approved", retrieved.TriggerConfig["to_status"])
	require.Len(t, retrieved.Actions, 2)
	assert.True(t, retrieved.Actions[1].RequiresApproval)
	require.NotNil(t, retrieved.RateLimitPerHour)
	assert.Equal(t, 5, *retrieved.RateLimitPerHour)
	assert.Nil(t, retrieved.RateLimitPerEntityPerDay)

	require.NoError(t, repo.RecordRun(ctx, workflow.ID, time.Now(), "boom"))

	workflow.Name = "Renamed"
	workflow.RunCount = 0
	require.NoError(t, repo.Save(ctx, workflow))

	retrieved, err = repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", retrieved.Name)
	assert.Equal(t, 1, retrieved.RunCount, "save does not reset run statistics")
	assert.Equal(t, "boom", retrieved.LastError)

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	_, err = repo.GetByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = repo.RecordRun(ctx, workflow.ID, time.Now(), "")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_ListEnabled(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	enabled := newDefinition("org-1", models.TriggerStatusChanged)
	disabled := newDefinition("org-1", models.TriggerStatusChanged)
	disabled.IsEnabled = false
	otherOrg := newDefinition("org-2", models.TriggerStatusChanged)
	otherTrigger := newDefinition("org-1", models.TriggerEntityCreated)

	for _, wf := range []*models.WorkflowDefinition{enabled, disabled, otherOrg, otherTrigger} {
		require.NoError(t, repo.Save(ctx, wf))
	}

	found, err := repo.ListEnabled(ctx, "org-1", models.TriggerStatusChanged)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, enabled.ID, found[0].ID)

	page, err := repo.List(ctx, persistence.ListWorkflowsOptions{OrganizationID: "org-1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.Len(t, page.Workflows, 2)
	assert.True(t, page.HasNextPage)
}

func newExecution(workflowID, entityID string, status models.ExecutionStatus, at time.Time) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		OrganizationID: "org-1",
		EventID:        uuid.NewString(),
		EventSource:    models.SourceSystem,
		TriggerType:    models.TriggerInactivity,
		EntityType:     "case",
		EntityID:       entityID,
		TriggerEvent:   map[string]any{"days_inactive": float64(7)},
		Status:         status,
		ExecutedAt:     at,
	}
}

func TestExecutionRepository_LedgerQueries(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()
	now := time.Now().UTC()

	rows := []*models.WorkflowExecution{
		newExecution("wf-1", "case-1", models.ExecutionStatusSuccess, now.Add(-10*time.Minute)),
		newExecution("wf-1", "case-2", models.ExecutionStatusPartial, now.Add(-30*time.Minute)),
		newExecution("wf-1", "case-1", models.ExecutionStatusSkipped, now.Add(-5*time.Minute)),
		newExecution("wf-1", "case-1", models.ExecutionStatusFailed, now.Add(-3*time.Hour)),
	}

	for _, row := range rows {
		require.NoError(t, repo.Create(ctx, row))
	}

	count, err := repo.CountSince(ctx, persistence.ExecutionCountFilter{
		WorkflowID: "wf-1", Since: now.Add(-time.Hour), ExcludeStatus: models.ExecutionStatusSkipped,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.CountSince(ctx, persistence.ExecutionCountFilter{
		WorkflowID: "wf-1", EntityID: "case-1", Since: now.Add(-24 * time.Hour), ExcludeStatus: models.ExecutionStatusSkipped,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := repo.GetByID(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, float64(7), got.TriggerEvent["days_inactive"])
	assert.Empty(t, got.ActionsExecuted)

	list, err := repo.List(ctx, persistence.ListExecutionsOptions{WorkflowID: "wf-1", EntityID: "case-1"})
	require.NoError(t, err)
	require.Len(t, list.Executions, 3)
	assert.Equal(t, rows[2].ID, list.Executions[0].ID, "newest first")

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_DedupeKeyUniqueness(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()
	now := time.Now().UTC()
	key := "wf-1:case-1:inactivity:" + now.Format(time.DateOnly)

	skipped := newExecution("wf-1", "case-1", models.ExecutionStatusSkipped, now)
	skipped.DedupeKey = &key
	require.NoError(t, repo.Create(ctx, skipped))

	exists, err := repo.ExistsByDedupeKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	first := newExecution("wf-1", "case-1", models.ExecutionStatusSuccess, now)
	first.DedupeKey = &key
	require.NoError(t, repo.Create(ctx, first))

	second := newExecution("wf-1", "case-1", models.ExecutionStatusSuccess, now)
	second.DedupeKey = &key
	err = repo.Create(ctx, second)
	assert.True(t, persistence.IsDuplicateDedupeKey(err))
}

func TestExecutionRepository_PauseAndLock(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()
	now := time.Now().UTC()

	execution := newExecution("wf-1", "case-1", models.ExecutionStatusSuccess, now.Add(-2*time.Hour))
	execution.ActionsExecuted = []models.ActionResult{{ActionIndex: 0, ActionType: models.ActionAddNote, Success: true, ExecutedAt: now}}
	execution.Pause(1, "task-1", now.Add(-2*time.Hour))
	require.NoError(t, repo.Create(ctx, execution))

	paused, err := repo.ListPausedBefore(ctx, now.Add(-time.Hour), nil, 10)
	require.NoError(t, err)
	require.Len(t, paused, 1)
	require.NotNil(t, paused[0].PausedAtIndex)
	assert.Equal(t, 1, *paused[0].PausedAtIndex)
	assert.Equal(t, "task-1", *paused[0].PausedTaskID)

	rest, err := repo.ListPausedBefore(ctx, now.Add(-time.Hour), &persistence.PausedCursor{
		PausedAt: *paused[0].PausedAt,
		ID:       paused[0].ID,
	}, 10)
	require.NoError(t, err)
	assert.Empty(t, rest, "the cursor row itself is excluded")

	var resumed atomic.Int32

	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := repo.WithLock(ctx, execution.ID, func(_ context.Context, locked *models.WorkflowExecution) (bool, error) {
				if locked.Status != models.ExecutionStatusPaused {
					return false, nil
				}

				resumed.Add(1)
				locked.ClearPause()
				locked.Status = models.ExecutionStatusCanceled
				locked.ErrorMessage = "denied"

				return true, nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), resumed.Load())

	got, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCanceled, got.Status)
	assert.Nil(t, got.PausedAtIndex)
	assert.Nil(t, got.PausedTaskID)
	assert.Len(t, got.ActionsExecuted, 1)
}
