// Package persistence provides the storage abstraction for workflow definitions and the execution ledger.
package persistence

import (
	"context"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters and paginates definition listings.
type ListWorkflowsOptions struct {
	OrganizationID string
	TriggerType    models.TriggerType
	OwnerUserID    string
	EnabledOnly    bool

	Limit  int
	Offset int
}

// WorkflowListResult is one page of definitions.
type WorkflowListResult struct {
	Workflows   []*models.WorkflowDefinition
	TotalCount  int64
	HasNextPage bool
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)

	// ListEnabled returns every enabled definition of the organization for the trigger type,
	// regardless of scope. Scope narrowing is the matcher's job.
	ListEnabled(ctx context.Context, orgID string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error)

	// RecordRun increments run_count and sets last_run_at and last_error.
	RecordRun(ctx context.Context, id string, ranAt time.Time, lastError string) error
}

// ExecutionCountFilter selects ledger rows for the rate-limit window queries.
type ExecutionCountFilter struct {
	WorkflowID string
	EntityID   string // Optional
	Since      time.Time
	// Rows with this status are not counted.
	ExcludeStatus models.ExecutionStatus
}

// ListExecutionsOptions filters and paginates ledger listings.
type ListExecutionsOptions struct {
	WorkflowID string
	EntityType string
	EntityID   string
	EventID    string
	Status     *models.ExecutionStatus

	Limit  int
	Offset int
}

// ExecutionListResult is one page of ledger rows, newest first.
type ExecutionListResult struct {
	Executions  []*models.WorkflowExecution
	TotalCount  int64
	HasNextPage bool
}

// PausedCursor is the position of the last row of a ListPausedBefore page.
type PausedCursor struct {
	PausedAt time.Time
	ID       string
}

// LockedFunc mutates a locked execution. Returning save=false leaves the row untouched.
type LockedFunc func(ctx context.Context, execution *models.WorkflowExecution) (save bool, err error)

// ExecutionRepository is the execution ledger.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	Update(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	List(ctx context.Context, opts ListExecutionsOptions) (*ExecutionListResult, error)

	// ExistsByDedupeKey reports whether any ledger row, in any status, carries the key.
	ExistsByDedupeKey(ctx context.Context, key string) (bool, error)
	CountSince(ctx context.Context, filter ExecutionCountFilter) (int, error)

	// ListPausedBefore returns paused executions whose pause started before the given time,
	// ordered by (paused_at, id). A non-nil after skips every row up to and including the cursor.
	ListPausedBefore(ctx context.Context, before time.Time, after *PausedCursor, limit int) ([]*models.WorkflowExecution, error)

	// WithLock holds an exclusive lock on the execution row while fn runs. Concurrent callers for
	// the same id block until the lock is released; the row fn sees is always the latest committed.
	WithLock(ctx context.Context, id string, fn LockedFunc) error
}
