package guard

import (
	"context"
	"fmt"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
)

// LedgerCounter counts non-skipped ledger rows inside a trailing window.
// The count and the comparison are not serialized against concurrent triggers.
type LedgerCounter struct {
	executions persistence.ExecutionRepository
}

func NewLedgerCounter(executions persistence.ExecutionRepository) *LedgerCounter {
	return &LedgerCounter{executions: executions}
}

func (c *LedgerCounter) Acquire(ctx context.Context, window Window, limit int) error {
	filter := persistence.ExecutionCountFilter{
		WorkflowID:    window.WorkflowID,
		Since:         window.Now.Add(-window.Size()),
		ExcludeStatus: models.ExecutionStatusSkipped,
	}

	if window.Scope == ScopeDay {
		filter.EntityID = window.EntityID
	}

	count, err := c.executions.CountSince(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to count executions for %s window: %w", window.Scope, err)
	}

	if count >= limit {
		return &RateLimitError{
			Scope:      window.Scope,
			WorkflowID: window.WorkflowID,
			EntityID:   window.EntityID,
			Current:    count,
			Limit:      limit,
		}
	}

	return nil
}

// Release is a no-op: a skipped ledger row is not counted.
func (c *LedgerCounter) Release(context.Context, Window) error {
	return nil
}
