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
	"github.com/google/uuid"
)

const workflowColumns = `
			id
		  , organization_id
		  , name
		  , description
		  , scope
		  , owner_user_id
		  , trigger_type
		  , trigger_config
		  , conditions
		  , condition_logic
		  , actions
		  , is_enabled
		  , rate_limit_per_hour
		  , rate_limit_per_entity_per_day
		  , run_count
		  , last_run_at
		  , last_error
		  , created_by
		  , created_at
		  , updated_at`

// WorkflowRepository handles workflow definition database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Save inserts or replaces a workflow definition. Run statistics are owned by RecordRun and
// are not overwritten on conflict.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	triggerConfigJSON, err := json.Marshal(workflow.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	conditionsJSON, err := json.Marshal(workflow.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	actionsJSON, err := json.Marshal(workflow.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			scope = EXCLUDED.scope,
			owner_user_id = EXCLUDED.owner_user_id,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			conditions = EXCLUDED.conditions,
			condition_logic = EXCLUDED.condition_logic,
			actions = EXCLUDED.actions,
			is_enabled = EXCLUDED.is_enabled,
			rate_limit_per_hour = EXCLUDED.rate_limit_per_hour,
			rate_limit_per_entity_per_day = EXCLUDED.rate_limit_per_entity_per_day,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.OrganizationID,
		workflow.Name,
		workflow.Description,
		workflow.Scope,
		workflow.OwnerUserID,
		workflow.TriggerType,
		triggerConfigJSON,
		conditionsJSON,
		workflow.Logic(),
		actionsJSON,
		workflow.IsEnabled,
		workflow.RateLimitPerHour,
		workflow.RateLimitPerEntityPerDay,
		workflow.RunCount,
		workflow.LastRunAt,
		workflow.LastError,
		workflow.CreatedBy,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// GetByID returns a workflow definition by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow_definitions WHERE id = $1`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Delete removes a workflow definition. Its ledger rows are kept.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// List returns definitions ordered by creation time with filtering and pagination.
func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	where, args := workflowFilter(opts)

	var total int64

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_definitions`+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflow_definitions` + where + ` ORDER BY created_at ASC, id ASC`
	query, args = paginateQuery(query, args, opts.Limit, opts.Offset)

	workflows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &persistence.WorkflowListResult{
		Workflows:   workflows,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(workflows)) < total,
	}, nil
}

// ListEnabled returns every enabled definition of the organization for the trigger type.
func (r *WorkflowRepository) ListEnabled(
	ctx context.Context,
	orgID string,
	triggerType models.TriggerType,
) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow_definitions
		WHERE organization_id = $1 AND trigger_type = $2 AND is_enabled
		ORDER BY created_at ASC, id ASC`

	return r.query(ctx, query, orgID, triggerType)
}

// RecordRun updates the run statistics of a definition.
func (r *WorkflowRepository) RecordRun(ctx context.Context, id string, ranAt time.Time, lastError string) error {
	query := `
		UPDATE workflow_definitions
		SET run_count = run_count + 1, last_run_at = $2, last_error = $3
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, ranAt.UTC(), lastError)
	if err != nil {
		return fmt.Errorf("failed to record workflow run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("RecordRun", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func workflowFilter(opts persistence.ListWorkflowsOptions) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if opts.OrganizationID != "" {
		add("organization_id = $%d", opts.OrganizationID)
	}

	if opts.TriggerType != "" {
		add("trigger_type = $%d", opts.TriggerType)
	}

	if opts.OwnerUserID != "" {
		add("owner_user_id = $%d", opts.OwnerUserID)
	}

	if opts.EnabledOnly {
		clauses = append(clauses, "is_enabled")
	}

	if len(clauses) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func paginateQuery(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return query, args
}

func scanWorkflow(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowDefinition, error) {
	var (
		workflow          models.WorkflowDefinition
		triggerConfigJSON []byte
		conditionsJSON    []byte
		actionsJSON       []byte
		perHour           sql.NullInt64
		perEntityPerDay   sql.NullInt64
		lastRunAt         sql.NullTime
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.OrganizationID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Scope,
		&workflow.OwnerUserID,
		&workflow.TriggerType,
		&triggerConfigJSON,
		&conditionsJSON,
		&workflow.ConditionLogic,
		&actionsJSON,
		&workflow.IsEnabled,
		&perHour,
		&perEntityPerDay,
		&workflow.RunCount,
		&lastRunAt,
		&workflow.LastError,
		&workflow.CreatedBy,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerConfigJSON, &workflow.TriggerConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
	}

	if err := json.Unmarshal(conditionsJSON, &workflow.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}

	if err := json.Unmarshal(actionsJSON, &workflow.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	if perHour.Valid {
		limit := int(perHour.Int64)
		workflow.RateLimitPerHour = &limit
	}

	if perEntityPerDay.Valid {
		limit := int(perEntityPerDay.Int64)
		workflow.RateLimitPerEntityPerDay = &limit
	}

	if lastRunAt.Valid {
		ranAt := lastRunAt.Time.UTC()
		workflow.LastRunAt = &ranAt
	}

	return &workflow, nil
}
