package guard_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/guard"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func intPtr(v int) *int { return &v }

func seed(t *testing.T, repo persistence.ExecutionRepository, id, workflowID, entityID string, status models.ExecutionStatus, at time.Time) {
	t.Helper()

	require.NoError(t, repo.Create(context.Background(), &models.WorkflowExecution{
		ID:          id,
		WorkflowID:  workflowID,
		EventID:     "evt-" + id,
		EventSource: models.SourceUser,
		TriggerType: models.TriggerStatusChanged,
		EntityType:  "case",
		EntityID:    entityID,
		Status:      status,
		ExecutedAt:  at,
	}))
}

func TestDedupeKey(t *testing.T) {
	now := time.Date(2026, 5, 4, 23, 30, 0, 0, time.FixedZone("PDT", -7*3600))

	sweep := &models.WorkflowDefinition{ID: "wf-1", TriggerType: models.TriggerInactivity}
	key := guard.DedupeKey(sweep, "case-9", now)
	require.NotNil(t, key)
	assert.Equal(t, "wf-1:case-9:inactivity:2026-05-05", *key, "date is taken in UTC")

	for _, trigger := range []models.TriggerType{models.TriggerScheduled, models.TriggerTaskDue, models.TriggerTaskOverdue} {
		assert.NotNil(t, guard.DedupeKey(&models.WorkflowDefinition{ID: "wf", TriggerType: trigger}, "e", now), trigger)
	}

	event := &models.WorkflowDefinition{ID: "wf-1", TriggerType: models.TriggerStatusChanged}
	assert.Nil(t, guard.DedupeKey(event, "case-9", now))
}

func TestGuard_IsDuplicate(t *testing.T) {
	repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
	g := guard.New(testLogger(), repo, nil)
	ctx := context.Background()

	duplicate, err := g.IsDuplicate(ctx, nil)
	require.NoError(t, err)
	assert.False(t, duplicate)

	key := "wf-1:case-1:scheduled:2026-05-05"

	duplicate, err = g.IsDuplicate(ctx, &key)
	require.NoError(t, err)
	assert.False(t, duplicate)

	require.NoError(t, repo.Create(ctx, &models.WorkflowExecution{
		ID: "e1", WorkflowID: "wf-1", EntityID: "case-1", Status: models.ExecutionStatusSkipped,
		DedupeKey: &key, ExecutedAt: time.Now().UTC(),
	}))

	duplicate, err = g.IsDuplicate(ctx, &key)
	require.NoError(t, err)
	assert.True(t, duplicate, "a skipped row still marks the key as used")
}

func TestGuard_CheckRateLimits(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()

	t.Run("no limits configured", func(t *testing.T) {
		repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
		g := guard.New(testLogger(), repo, nil)

		assert.NoError(t, g.CheckRateLimits(ctx, &models.WorkflowDefinition{ID: "wf-1"}, "case-1", now))
	})

	t.Run("per hour ceiling ignores skipped and old rows", func(t *testing.T) {
		repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
		g := guard.New(testLogger(), repo, nil)
		wf := &models.WorkflowDefinition{ID: "wf-1", RateLimitPerHour: intPtr(2)}

		seed(t, repo, "a", "wf-1", "case-1", models.ExecutionStatusSuccess, now.Add(-10*time.Minute))
		seed(t, repo, "b", "wf-1", "case-2", models.ExecutionStatusSkipped, now.Add(-5*time.Minute))
		seed(t, repo, "c", "wf-1", "case-3", models.ExecutionStatusFailed, now.Add(-2*time.Hour))

		require.NoError(t, g.CheckRateLimits(ctx, wf, "case-4", now))

		seed(t, repo, "d", "wf-1", "case-4", models.ExecutionStatusPaused, now.Add(-time.Minute))

		err := g.CheckRateLimits(ctx, wf, "case-5", now)
		require.ErrorIs(t, err, guard.ErrRateLimitExceeded)

		rateErr, ok := guard.IsRateLimitExceeded(err)
		require.True(t, ok)
		assert.Equal(t, guard.ScopeHour, rateErr.Scope)
		assert.Equal(t, 2, rateErr.Current)
		assert.Equal(t, 2, rateErr.Limit)
		assert.Contains(t, err.Error(), "2/2")
	})

	t.Run("per entity per day ceiling", func(t *testing.T) {
		repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
		g := guard.New(testLogger(), repo, nil)
		wf := &models.WorkflowDefinition{ID: "wf-1", RateLimitPerEntityPerDay: intPtr(1)}

		seed(t, repo, "a", "wf-1", "case-1", models.ExecutionStatusSuccess, now.Add(-20*time.Hour))

		require.NoError(t, g.CheckRateLimits(ctx, wf, "case-2", now))

		err := g.CheckRateLimits(ctx, wf, "case-1", now)
		rateErr, ok := guard.IsRateLimitExceeded(err)
		require.True(t, ok)
		assert.Equal(t, guard.ScopeDay, rateErr.Scope)
		assert.Equal(t, "case-1", rateErr.EntityID)
	})
}

type countingCounter struct {
	acquired map[guard.Scope]int
	released map[guard.Scope]int
	reject   guard.Scope
}

func (c *countingCounter) Acquire(_ context.Context, window guard.Window, limit int) error {
	if window.Scope == c.reject {
		return &guard.RateLimitError{Scope: window.Scope, Current: limit, Limit: limit}
	}

	c.acquired[window.Scope]++

	return nil
}

func (c *countingCounter) Release(_ context.Context, window guard.Window) error {
	c.released[window.Scope]++

	return nil
}

func TestGuard_CheckRateLimitsRollsBackPartialAcquire(t *testing.T) {
	counter := &countingCounter{
		acquired: map[guard.Scope]int{},
		released: map[guard.Scope]int{},
		reject:   guard.ScopeDay,
	}
	g := guard.New(testLogger(), file.NewPersistence(t.TempDir()).ExecutionRepository(), counter)
	wf := &models.WorkflowDefinition{ID: "wf-1", RateLimitPerHour: intPtr(10), RateLimitPerEntityPerDay: intPtr(1)}

	err := g.CheckRateLimits(context.Background(), wf, "case-1", time.Now())
	require.ErrorIs(t, err, guard.ErrRateLimitExceeded)

	assert.Equal(t, 1, counter.acquired[guard.ScopeHour])
	assert.Equal(t, 1, counter.released[guard.ScopeHour])
}
