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

// ExecutionRepository is the file-backed execution ledger, one JSON file per execution
// under <root>/executions.
type ExecutionRepository struct {
	dir string
	mu  sync.RWMutex

	locksMu sync.Mutex
	locks   map[string]*rowLock
}

type rowLock struct {
	mu      sync.Mutex
	waiters int
}

// NewExecutionRepository creates a new file-based execution ledger.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{
		dir:   filepath.Join(root, "executions"),
		locks: make(map[string]*rowLock),
	}
}

// Create appends a new execution. A non-skipped execution may not reuse the dedupe key of
// another non-skipped execution.
func (er *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	if _, err := os.Stat(filepath.Join(er.dir, execution.ID+".json")); err == nil {
		return fmt.Errorf("execution %s already exists", execution.ID)
	}

	if execution.DedupeKey != nil && execution.Status != models.ExecutionStatusSkipped {
		all, err := er.all()
		if err != nil {
			return err
		}

		for _, existing := range all {
			if existing.DedupeKey != nil && *existing.DedupeKey == *execution.DedupeKey &&
				existing.Status != models.ExecutionStatusSkipped {
				return persistence.NewExecutionError("Create", execution.ID, persistence.ErrDuplicateDedupeKey)
			}
		}
	}

	if execution.UpdatedAt.IsZero() {
		execution.UpdatedAt = execution.ExecutedAt
	}

	return writeJSON(er.dir, execution.ID, execution)
}

// Update replaces a stored execution.
func (er *ExecutionRepository) Update(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	return er.update(execution)
}

func (er *ExecutionRepository) update(execution *models.WorkflowExecution) error {
	if _, err := os.Stat(filepath.Join(er.dir, execution.ID+".json")); os.IsNotExist(err) {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	execution.UpdatedAt = time.Now().UTC()

	return writeJSON(er.dir, execution.ID, execution)
}

// GetByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	er.mu.RLock()
	defer er.mu.RUnlock()

	return er.load(id)
}

func (er *ExecutionRepository) load(id string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution

	err := readJSON(er.dir, id, &execution)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	return &execution, nil
}

// List returns executions newest first with filtering and pagination.
func (er *ExecutionRepository) List(_ context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	er.mu.RLock()
	all, err := er.all()
	er.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowExecution, 0, len(all))

	for _, exec := range all {
		if opts.WorkflowID != "" && exec.WorkflowID != opts.WorkflowID {
			continue
		}

		if opts.EntityType != "" && exec.EntityType != opts.EntityType {
			continue
		}

		if opts.EntityID != "" && exec.EntityID != opts.EntityID {
			continue
		}

		if opts.EventID != "" && exec.EventID != opts.EventID {
			continue
		}

		if opts.Status != nil && exec.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, exec)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ExecutedAt.After(filtered[j].ExecutedAt)
	})

	page, hasNext := paginate(filtered, opts.Offset, opts.Limit)

	return &persistence.ExecutionListResult{
		Executions:  page,
		TotalCount:  int64(len(filtered)),
		HasNextPage: hasNext,
	}, nil
}

// ExistsByDedupeKey reports whether any execution carries the key.
func (er *ExecutionRepository) ExistsByDedupeKey(_ context.Context, key string) (bool, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	all, err := er.all()
	if err != nil {
		return false, err
	}

	for _, exec := range all {
		if exec.DedupeKey != nil && *exec.DedupeKey == key {
			return true, nil
		}
	}

	return false, nil
}

// CountSince counts executions of a workflow at or after filter.Since.
func (er *ExecutionRepository) CountSince(_ context.Context, filter persistence.ExecutionCountFilter) (int, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	all, err := er.all()
	if err != nil {
		return 0, err
	}

	count := 0

	for _, exec := range all {
		if exec.WorkflowID != filter.WorkflowID {
			continue
		}

		if filter.EntityID != "" && exec.EntityID != filter.EntityID {
			continue
		}

		if filter.ExcludeStatus != "" && exec.Status == filter.ExcludeStatus {
			continue
		}

		if exec.ExecutedAt.Before(filter.Since) {
			continue
		}

		count++
	}

	return count, nil
}

// ListPausedBefore returns paused executions whose pause started before the given time, ordered
// by pause time and then id.
func (er *ExecutionRepository) ListPausedBefore(
	_ context.Context,
	before time.Time,
	after *persistence.PausedCursor,
	limit int,
) ([]*models.WorkflowExecution, error) {
	er.mu.RLock()
	all, err := er.all()
	er.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	paused := make([]*models.WorkflowExecution, 0)

	for _, exec := range all {
		if exec.Status != models.ExecutionStatusPaused || exec.PausedAt == nil || !exec.PausedAt.Before(before) {
			continue
		}

		if after != nil && !pastCursor(exec, after) {
			continue
		}

		paused = append(paused, exec)
	}

	sort.Slice(paused, func(i, j int) bool {
		if !paused[i].PausedAt.Equal(*paused[j].PausedAt) {
			return paused[i].PausedAt.Before(*paused[j].PausedAt)
		}

		return paused[i].ID < paused[j].ID
	})

	page, _ := paginate(paused, 0, limit)

	return page, nil
}

func pastCursor(exec *models.WorkflowExecution, cursor *persistence.PausedCursor) bool {
	if exec.PausedAt.Equal(cursor.PausedAt) {
		return exec.ID > cursor.ID
	}

	return exec.PausedAt.After(cursor.PausedAt)
}

// WithLock serializes fn against other WithLock calls for the same execution in this process.
func (er *ExecutionRepository) WithLock(ctx context.Context, id string, fn persistence.LockedFunc) error {
	if err := validateID(id); err != nil {
		return persistence.NewExecutionError("WithLock", id, err)
	}

	unlock := er.lockRow(id)
	defer unlock()

	er.mu.RLock()
	execution, err := er.load(id)
	er.mu.RUnlock()

	if err != nil {
		return persistence.NewExecutionError("WithLock", id, err)
	}

	save, err := fn(ctx, execution)
	if err != nil {
		return err
	}

	if !save {
		return nil
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	return er.update(execution)
}

func (er *ExecutionRepository) lockRow(id string) func() {
	er.locksMu.Lock()

	lock, ok := er.locks[id]
	if !ok {
		lock = &rowLock{}
		er.locks[id] = lock
	}

	lock.waiters++
	er.locksMu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		er.locksMu.Lock()
		lock.waiters--

		if lock.waiters == 0 {
			delete(er.locks, id)
		}

		er.locksMu.Unlock()
	}
}

func (er *ExecutionRepository) all() ([]*models.WorkflowExecution, error) {
	ids, err := listIDs(er.dir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0, len(ids))

	for _, id := range ids {
		exec, err := er.load(id)
		if persistence.IsExecutionNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		executions = append(executions, exec)
	}

	return executions, nil
}
