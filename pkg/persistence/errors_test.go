package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		executionErr := persistence.NewExecutionError("GetByID", "exec-1", persistence.ErrExecutionNotFound)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsExecutionNotFound(executionErr))
		assert.False(t, persistence.IsExecutionNotFound(workflowErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.True(t, errors.Is(executionErr, persistence.ErrExecutionNotFound))
	})

	t.Run("wrapped errors are still detected", func(t *testing.T) {
		err := fmt.Errorf("loading ledger: %w", persistence.NewExecutionError("Create", "exec-2", persistence.ErrDuplicateDedupeKey))

		assert.True(t, persistence.IsDuplicateDedupeKey(err))
	})

	t.Run("errors contain context", func(t *testing.T) {
		err := persistence.NewWorkflowError("RecordRun", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "RecordRun")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow not found")

		execErr := persistence.NewExecutionError("WithLock", "exec-9", persistence.ErrExecutionNotFound)
		assert.Contains(t, execErr.Error(), "WithLock")
		assert.Contains(t, execErr.Error(), "exec-9")
	})
}
