package mocks

import (
	"context"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/engine"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a mock implementation of engine.Adapter interface.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) GetEntity(ctx context.Context, entityType, entityID string) (*engine.Entity, error) {
	args := m.Called(ctx, entityType, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*engine.Entity), args.Error(1)
}

func (m *MockAdapter) GetApprovableSubject(ctx context.Context, entityType string, entity *engine.Entity) (*engine.Subject, error) {
	args := m.Called(ctx, entityType, entity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*engine.Subject), args.Error(1)
}

func (m *MockAdapter) CreateApprovalTask(ctx context.Context, req engine.ApprovalTaskRequest) (*models.ApprovalTask, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ApprovalTask), args.Error(1)
}

func (m *MockAdapter) ExecuteAction(ctx context.Context, req engine.ActionRequest) engine.ActionOutcome {
	args := m.Called(ctx, req)

	return args.Get(0).(engine.ActionOutcome)
}

func (m *MockAdapter) IsUserOptedOut(ctx context.Context, ownerUserID, workflowID string) (bool, error) {
	args := m.Called(ctx, ownerUserID, workflowID)

	return args.Bool(0), args.Error(1)
}

// ExecutedActions returns the requests passed to ExecuteAction, in call order.
func (m *MockAdapter) ExecutedActions() []engine.ActionRequest {
	requests := make([]engine.ActionRequest, 0, len(m.Calls))

	for _, call := range m.Calls {
		if call.Method == "ExecuteAction" {
			requests = append(requests, call.Arguments.Get(1).(engine.ActionRequest))
		}
	}

	return requests
}
