package mocks

import (
	"context"
	"time"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/engine"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockRunner is a mock of the engine entry points used by the API and the worker.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Trigger(ctx context.Context, req engine.TriggerRequest) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockRunner) ContinueExecution(ctx context.Context, executionID string, task models.ApprovalTask, decision models.Decision) error {
	args := m.Called(ctx, executionID, task, decision)

	return args.Error(0)
}

func (m *MockRunner) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	args := m.Called(ctx, maxAge)

	return args.Int(0), args.Error(1)
}
