package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/lib/pq"
)

const (
	executionColumns = `
			id
		  , workflow_id
		  , organization_id
		  , event_id
		  , depth
		  , event_source
		  , trigger_type
		  , entity_type
		  , entity_id
		  , trigger_event
		  , dedupe_key
		  , matched_conditions
		  , actions_executed
		  , status
		  , error_message
		  , duration_ms
		  , triggered_by_user_id
		  , paused_at_action_index
		  , paused_task_id
		  , paused_at
		  , executed_at
		  , updated_at`

	dedupeUniqueIndex = "idx_workflow_executions_dedupe_unique"
	uniqueViolation   = "23505"
)

// ExecutionRepository is the PostgreSQL execution ledger.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution ledger repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts a new execution row.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.UpdatedAt.IsZero() {
		execution.UpdatedAt = execution.ExecutedAt
	}

	triggerEventJSON, err := json.Marshal(execution.TriggerEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger event: %w", err)
	}

	actionsJSON, err := json.Marshal(actionResults(execution))
	if err != nil {
		return fmt.Errorf("failed to marshal action results: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.OrganizationID,
		execution.EventID,
		execution.Depth,
		execution.EventSource,
		execution.TriggerType,
		execution.EntityType,
		execution.EntityID,
		triggerEventJSON,
		execution.DedupeKey,
		execution.MatchedConditions,
		actionsJSON,
		execution.Status,
		execution.ErrorMessage,
		execution.DurationMs,
		execution.TriggeredByUserID,
		execution.PausedAtIndex,
		execution.PausedTaskID,
		execution.PausedAt,
		execution.ExecutedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == dedupeUniqueIndex {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrDuplicateDedupeKey)
		}

		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// Update rewrites the mutable columns of an execution.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	return r.update(ctx, r.db, execution)
}

func (r *ExecutionRepository) update(ctx context.Context, db execer, execution *models.WorkflowExecution) error {
	execution.UpdatedAt = time.Now().UTC()

	actionsJSON, err := json.Marshal(actionResults(execution))
	if err != nil {
		return fmt.Errorf("failed to marshal action results: %w", err)
	}

	query := `
		UPDATE workflow_executions SET
			matched_conditions = $2,
			actions_executed = $3,
			status = $4,
			error_message = $5,
			duration_ms = $6,
			paused_at_action_index = $7,
			paused_task_id = $8,
			paused_at = $9,
			updated_at = $10
		WHERE id = $1
	`

	result, err := db.ExecContext(ctx, query,
		execution.ID,
		execution.MatchedConditions,
		actionsJSON,
		execution.Status,
		execution.ErrorMessage,
		execution.DurationMs,
		execution.PausedAtIndex,
		execution.PausedTaskID,
		execution.PausedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// GetByID returns an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// List returns executions newest first with filtering and pagination.
func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 5)

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if opts.WorkflowID != "" {
		add("workflow_id = $%d", opts.WorkflowID)
	}

	if opts.EntityType != "" {
		add("entity_type = $%d", opts.EntityType)
	}

	if opts.EntityID != "" {
		add("entity_id = $%d", opts.EntityID)
	}

	if opts.EventID != "" {
		add("event_id = $%d", opts.EventID)
	}

	if opts.Status != nil {
		add("status = $%d", *opts.Status)
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_executions`+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	query := `SELECT ` + executionColumns + ` FROM workflow_executions` + where + ` ORDER BY executed_at DESC, id DESC`
	query, args = paginateQuery(query, args, opts.Limit, opts.Offset)

	executions, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &persistence.ExecutionListResult{
		Executions:  executions,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(executions)) < total,
	}, nil
}

// ExistsByDedupeKey reports whether any execution carries the key.
func (r *ExecutionRepository) ExistsByDedupeKey(ctx context.Context, key string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE dedupe_key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up dedupe key: %w", err)
	}

	return exists, nil
}

// CountSince counts executions of a workflow at or after filter.Since.
func (r *ExecutionRepository) CountSince(ctx context.Context, filter persistence.ExecutionCountFilter) (int, error) {
	query := `SELECT COUNT(*) FROM workflow_executions WHERE workflow_id = $1 AND executed_at >= $2`
	args := []any{filter.WorkflowID, filter.Since}

	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}

	if filter.ExcludeStatus != "" {
		args = append(args, filter.ExcludeStatus)
		query += fmt.Sprintf(" AND status <> $%d", len(args))
	}

	var count int

	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return count, nil
}

// ListPausedBefore returns paused executions whose pause started before the given time, ordered
// by (paused_at, id) and starting strictly after the cursor when one is given.
func (r *ExecutionRepository) ListPausedBefore(
	ctx context.Context,
	before time.Time,
	after *persistence.PausedCursor,
	limit int,
) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions
		WHERE status = $1 AND paused_at < $2`
	args := []any{models.ExecutionStatusPaused, before}

	if after != nil {
		query += ` AND (paused_at, id) > ($3::timestamptz, $4::varchar)`
		args = append(args, after.PausedAt, after.ID)
	}

	query += ` ORDER BY paused_at ASC, id ASC`
	query, args = paginateQuery(query, args, limit, 0)

	return r.query(ctx, query, args...)
}

// WithLock runs fn inside a transaction holding SELECT ... FOR UPDATE on the execution row.
// A concurrent caller blocks on the row lock and then sees the committed result of fn.
func (r *ExecutionRepository) WithLock(ctx context.Context, id string, fn persistence.LockedFunc) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1 FOR UPDATE`

	execution, err := scanExecution(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewExecutionError("WithLock", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to lock execution: %w", err)
	}

	save, err := fn(ctx, execution)
	if err != nil {
		return err
	}

	if save {
		err = r.update(ctx, tx, execution)
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit execution lock: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func actionResults(execution *models.WorkflowExecution) []models.ActionResult {
	if execution.ActionsExecuted == nil {
		return []models.ActionResult{}
	}

	return execution.ActionsExecuted
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowExecution, error) {
	var (
		execution        models.WorkflowExecution
		triggerEventJSON []byte
		actionsJSON      []byte
		dedupeKey        sql.NullString
		pausedIndex      sql.NullInt64
		pausedTaskID     sql.NullString
		pausedAt         sql.NullTime
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.OrganizationID,
		&execution.EventID,
		&execution.Depth,
		&execution.EventSource,
		&execution.TriggerType,
		&execution.EntityType,
		&execution.EntityID,
		&triggerEventJSON,
		&dedupeKey,
		&execution.MatchedConditions,
		&actionsJSON,
		&execution.Status,
		&execution.ErrorMessage,
		&execution.DurationMs,
		&execution.TriggeredByUserID,
		&pausedIndex,
		&pausedTaskID,
		&pausedAt,
		&execution.ExecutedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerEventJSON, &execution.TriggerEvent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger event: %w", err)
	}

	if err := json.Unmarshal(actionsJSON, &execution.ActionsExecuted); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action results: %w", err)
	}

	if dedupeKey.Valid {
		execution.DedupeKey = &dedupeKey.String
	}

	if pausedIndex.Valid {
		index := int(pausedIndex.Int64)
		execution.PausedAtIndex = &index
	}

	if pausedTaskID.Valid {
		execution.PausedTaskID = &pausedTaskID.String
	}

	if pausedAt.Valid {
		at := pausedAt.Time.UTC()
		execution.PausedAt = &at
	}

	return &execution, nil
}
