package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
)

// WorkflowRepository stores one JSON file per definition under <root>/workflows.
type WorkflowRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewWorkflowRepository creates a new file-based workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{dir: filepath.Join(root, "workflows")}
}

// Save stores a workflow definition, replacing any previous version.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return writeJSON(wr.dir, workflow.ID, workflow)
}

// GetByID retrieves a workflow definition by its ID.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	wr.mu.RLock()
	defer wr.mu.RUnlock()

	return wr.load(id)
}

func (wr *WorkflowRepository) load(id string) (*models.WorkflowDefinition, error) {
	var workflow models.WorkflowDefinition

	err := readJSON(wr.dir, id, &workflow)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}

	return &workflow, nil
}

// Delete removes a workflow definition. Deleting a missing definition is not an error.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	err := os.Remove(filepath.Join(wr.dir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

// List returns definitions ordered by creation time with filtering and pagination.
func (wr *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	wr.mu.RLock()
	all, err := wr.all()
	wr.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowDefinition, 0, len(all))

	for _, wf := range all {
		if opts.OrganizationID != "" && wf.OrganizationID != opts.OrganizationID {
			continue
		}

		if opts.TriggerType != "" && wf.TriggerType != opts.TriggerType {
			continue
		}

		if opts.OwnerUserID != "" && wf.OwnerUserID != opts.OwnerUserID {
			continue
		}

		if opts.EnabledOnly && !wf.IsEnabled {
			continue
		}

		filtered = append(filtered, wf)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	page, hasNext := paginate(filtered, opts.Offset, opts.Limit)

	return &persistence.WorkflowListResult{
		Workflows:   page,
		TotalCount:  int64(len(filtered)),
		HasNextPage: hasNext,
	}, nil
}

// ListEnabled returns every enabled definition of the organization for the trigger type.
func (wr *WorkflowRepository) ListEnabled(
	ctx context.Context,
	orgID string,
	triggerType models.TriggerType,
) ([]*models.WorkflowDefinition, error) {
	result, err := wr.List(ctx, persistence.ListWorkflowsOptions{
		OrganizationID: orgID,
		TriggerType:    triggerType,
		EnabledOnly:    true,
	})
	if err != nil {
		return nil, err
	}

	return result.Workflows, nil
}

// RecordRun updates the run statistics of a definition.
func (wr *WorkflowRepository) RecordRun(_ context.Context, id string, ranAt time.Time, lastError string) error {
	if err := validateID(id); err != nil {
		return persistence.NewWorkflowError("RecordRun", id, err)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	workflow, err := wr.load(id)
	if err != nil {
		return err
	}

	ranAt = ranAt.UTC()
	workflow.RunCount++
	workflow.LastRunAt = &ranAt
	workflow.LastError = lastError

	return writeJSON(wr.dir, id, workflow)
}

func (wr *WorkflowRepository) all() ([]*models.WorkflowDefinition, error) {
	ids, err := listIDs(wr.dir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.load(id)
		if persistence.IsWorkflowNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func paginate[T any](items []T, offset, limit int) ([]T, bool) {
	if offset < 0 {
		offset = 0
	}

	if offset >= len(items) {
		return []T{}, false
	}

	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return items[offset:end], end < len(items)
}
