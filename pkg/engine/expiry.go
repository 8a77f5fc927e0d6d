package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
)

const expiryBatchSize = 100

// ExpireStale resumes with an expired decision every execution paused for longer than maxAge.
// It returns how many executions were examined; failures are collected and do not stop the sweep.
func (e *Engine) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := e.now().Add(-maxAge)
	examined := 0

	var (
		after *persistence.PausedCursor
		errs  []error
	)

	for {
		paused, err := e.executions.ListPausedBefore(ctx, cutoff, after, expiryBatchSize)
		if err != nil {
			return examined, fmt.Errorf("failed to list paused executions: %w", err)
		}

		for _, exec := range paused {
			if exec.PausedTaskID == nil {
				continue
			}

			examined++

			task := models.ApprovalTask{ID: *exec.PausedTaskID, Status: models.TaskStatusExpired}
			if err := e.ContinueExecution(ctx, exec.ID, task, models.DecisionExpired); err != nil {
				errs = append(errs, err)
			}
		}

		if len(paused) < expiryBatchSize {
			break
		}

		last := paused[len(paused)-1]
		after = &persistence.PausedCursor{PausedAt: *last.PausedAt, ID: last.ID}

		if err := ctx.Err(); err != nil {
			errs = append(errs, err)

			break
		}
	}

	if examined > 0 {
		e.logger.InfoContext(ctx, "expired stale approvals", "count", examined, "failures", len(errs))
	}

	return examined, errors.Join(errs...)
}
