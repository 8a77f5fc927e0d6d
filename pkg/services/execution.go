package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
)

var executionStatuses = []models.ExecutionStatus{
	models.ExecutionStatusRunning,
	models.ExecutionStatusSuccess,
	models.ExecutionStatusPartial,
	models.ExecutionStatusFailed,
	models.ExecutionStatusSkipped,
	models.ExecutionStatusPaused,
	models.ExecutionStatusCanceled,
	models.ExecutionStatusExpired,
}

// Execution browses the execution ledger.
type Execution struct {
	persistence persistence.Persistence
}

func NewExecution(persistence persistence.Persistence) *Execution {
	return &Execution{persistence: persistence}
}

// ListExecutionsRequest contains options for listing ledger rows.
type ListExecutionsRequest struct {
	Limit  int
	Offset int

	WorkflowID string
	EntityType string
	EntityID   string
	EventID    string
	Status     string
}

// ListExecutionsResponse contains one page of ledger rows, newest first.
type ListExecutionsResponse struct {
	Executions  []*models.WorkflowExecution `json:"executions"`
	TotalCount  int64                       `json:"total_count"`
	HasNextPage bool                        `json:"has_next_page"`
}

// List retrieves ledger rows with filtering and pagination.
func (e *Execution) List(ctx context.Context, req ListExecutionsRequest) (*ListExecutionsResponse, error) {
	req.Limit, req.Offset = normalizePage(req.Limit, req.Offset)

	opts := persistence.ListExecutionsOptions{
		WorkflowID: req.WorkflowID,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		EventID:    req.EventID,
		Limit:      req.Limit,
		Offset:     req.Offset,
	}

	if req.Status != "" {
		status := models.ExecutionStatus(req.Status)
		if !slices.Contains(executionStatuses, status) {
			return nil, NewValidationError(
				"List",
				"INVALID_STATUS",
				fmt.Sprintf("invalid execution status '%s'", req.Status),
				ErrInvalidStatus,
			)
		}

		opts.Status = &status
	}

	result, err := e.persistence.ExecutionRepository().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return &ListExecutionsResponse{
		Executions:  result.Executions,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// FetchByID retrieves one ledger row.
func (e *Execution) FetchByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return e.persistence.ExecutionRepository().GetByID(ctx, id)
}
