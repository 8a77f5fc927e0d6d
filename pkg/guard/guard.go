// Package guard implements the dedupe and rate-limit checks that run before a workflow
// definition is applied to an event.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// Window identifies one rate-limit ceiling for one workflow (and entity, for ScopeDay).
type Window struct {
	Scope      Scope
	WorkflowID string
	EntityID   string
	Now        time.Time
}

// Size is the length of the window.
func (w Window) Size() time.Duration {
	if w.Scope == ScopeDay {
		return dayWindow
	}

	return hourWindow
}

// RateCounter counts executions against a window. Acquire returns a *RateLimitError when the
// window already holds limit executions. Release gives back a slot taken by Acquire for an
// attempt that did not run.
type RateCounter interface {
	Acquire(ctx context.Context, window Window, limit int) error
	Release(ctx context.Context, window Window) error
}

// Guard answers the dedupe and rate-limit questions for the engine.
type Guard struct {
	executions persistence.ExecutionRepository
	counter    RateCounter
	logger     *slog.Logger
}

// New creates a Guard. A nil counter selects the ledger-backed count queries.
func New(logger *slog.Logger, executions persistence.ExecutionRepository, counter RateCounter) *Guard {
	if counter == nil {
		counter = NewLedgerCounter(executions)
	}

	return &Guard{
		executions: executions,
		counter:    counter,
		logger:     logger.With("module", "guard"),
	}
}

// DedupeKey returns the dedupe key for sweep-style triggers and nil for every other trigger type.
func DedupeKey(workflow *models.WorkflowDefinition, entityID string, now time.Time) *string {
	if !workflow.TriggerType.IsSweep() {
		return nil
	}

	key := fmt.Sprintf("%s:%s:%s:%s", workflow.ID, entityID, workflow.TriggerType, now.UTC().Format(time.DateOnly))

	return &key
}

// IsDuplicate reports whether a ledger row with the key exists, whatever its status.
// A nil key is never a duplicate.
func (g *Guard) IsDuplicate(ctx context.Context, key *string) (bool, error) {
	if key == nil {
		return false, nil
	}

	exists, err := g.executions.ExistsByDedupeKey(ctx, *key)
	if err != nil {
		return false, fmt.Errorf("failed to check dedupe key %s: %w", *key, err)
	}

	return exists, nil
}

// CheckRateLimits enforces the per-hour and per-entity-per-day ceilings of the workflow.
// It returns a *RateLimitError when a ceiling is reached. With the ledger counter this is
// best effort: concurrent triggers may overshoot a ceiling slightly.
func (g *Guard) CheckRateLimits(ctx context.Context, workflow *models.WorkflowDefinition, entityID string, now time.Time) error {
	windows := g.windows(workflow, entityID, now)

	acquired := make([]Window, 0, len(windows))

	for _, entry := range windows {
		err := g.counter.Acquire(ctx, entry.window, entry.limit)
		if err != nil {
			// Roll back the slots already taken.
			for _, window := range acquired {
				if releaseErr := g.counter.Release(ctx, window); releaseErr != nil {
					g.logger.WarnContext(ctx, "failed to release rate-limit slot",
						"workflow_id", workflow.ID, "scope", window.Scope, "error", releaseErr)
				}
			}

			return err
		}

		acquired = append(acquired, entry.window)
	}

	return nil
}

// Release returns the slots taken by CheckRateLimits for an attempt that ended up skipped.
func (g *Guard) Release(ctx context.Context, workflow *models.WorkflowDefinition, entityID string, now time.Time) {
	for _, entry := range g.windows(workflow, entityID, now) {
		if err := g.counter.Release(ctx, entry.window); err != nil {
			g.logger.WarnContext(ctx, "failed to release rate-limit slot",
				"workflow_id", workflow.ID, "scope", entry.window.Scope, "error", err)
		}
	}
}

type limitedWindow struct {
	window Window
	limit  int
}

func (g *Guard) windows(workflow *models.WorkflowDefinition, entityID string, now time.Time) []limitedWindow {
	windows := make([]limitedWindow, 0, 2)

	if workflow.RateLimitPerHour != nil {
		windows = append(windows, limitedWindow{
			window: Window{Scope: ScopeHour, WorkflowID: workflow.ID, Now: now},
			limit:  *workflow.RateLimitPerHour,
		})
	}

	if workflow.RateLimitPerEntityPerDay != nil {
		windows = append(windows, limitedWindow{
			window: Window{Scope: ScopeDay, WorkflowID: workflow.ID, EntityID: entityID, Now: now},
			limit:  *workflow.RateLimitPerEntityPerDay,
		})
	}

	return windows
}
