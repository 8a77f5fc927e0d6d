package mocks

import (
	"context"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.WorkflowDefinition) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockWorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.WorkflowListResult), args.Error(1)
}

func (m *MockWorkflowRepository) ListEnabled(ctx context.Context, orgID string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, orgID, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) RecordRun(ctx context.Context, id string, ranAt time.Time, lastError string) error {
	args := m.Called(ctx, id, ranAt, lastError)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.ExecutionListResult), args.Error(1)
}

func (m *MockExecutionRepository) ExistsByDedupeKey(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) CountSince(ctx context.Context, filter persistence.ExecutionCountFilter) (int, error) {
	args := m.Called(ctx, filter)

	return args.Int(0), args.Error(1)
}

func (m *MockExecutionRepository) ListPausedBefore(
	ctx context.Context,
	before time.Time,
	after *persistence.PausedCursor,
	limit int,
) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, before, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) WithLock(ctx context.Context, id string, fn persistence.LockedFunc) error {
	args := m.Called(ctx, id, fn)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	workflows  *MockWorkflowRepository
	executions *MockExecutionRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		workflows:  &MockWorkflowRepository{},
		executions: &MockExecutionRepository{},
	}
}

func (m *MockPersistence) GetMockWorkflowRepository() *MockWorkflowRepository {
	return m.workflows
}

func (m *MockPersistence) GetMockExecutionRepository() *MockExecutionRepository {
	return m.executions
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.workflows
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.executions
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
