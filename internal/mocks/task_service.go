package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/attachment"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/service"
	"github.com/phrazzld/taskboard-api/internal/store"
	"github.com/stretchr/testify/mock"
)

// TaskService is a testify mock of service.TaskService.
type TaskService struct {
	mock.Mock
}

var _ service.TaskService = (*TaskService)(nil)

func (m *TaskService) view(args mock.Arguments) (*service.TaskView, error) {
	if v, ok := args.Get(0).(*service.TaskView); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

// List is a mock implementation of service.TaskService.List
func (m *TaskService) List(
	ctx context.Context,
	p domain.Principal,
	params store.TaskListParams,
) (*service.TaskPage, error) {
	args := m.Called(ctx, p, params)
	if page, ok := args.Get(0).(*service.TaskPage); ok {
		return page, args.Error(1)
	}
	return nil, args.Error(1)
}

// Get is a mock implementation of service.TaskService.Get
func (m *TaskService) Get(ctx context.Context, p domain.Principal, taskID uuid.UUID) (*service.TaskView, error) {
	return m.view(m.Called(ctx, p, taskID))
}

// Create is a mock implementation of service.TaskService.Create
func (m *TaskService) Create(
	ctx context.Context,
	p domain.Principal,
	in service.TaskInput,
	uploads []attachment.Upload,
) (*service.TaskView, error) {
	return m.view(m.Called(ctx, p, in, uploads))
}

// Update is a mock implementation of service.TaskService.Update
func (m *TaskService) Update(
	ctx context.Context,
	p domain.Principal,
	taskID uuid.UUID,
	in service.TaskInput,
	uploads []attachment.Upload,
) (*service.TaskView, error) {
	return m.view(m.Called(ctx, p, taskID, in, uploads))
}

// Delete is a mock implementation of service.TaskService.Delete
func (m *TaskService) Delete(ctx context.Context, p domain.Principal, taskID uuid.UUID) error {
	return m.Called(ctx, p, taskID).Error(0)
}

// RemoveDocument is a mock implementation of service.TaskService.RemoveDocument
func (m *TaskService) RemoveDocument(
	ctx context.Context,
	p domain.Principal,
	taskID, docID uuid.UUID,
) (*service.TaskView, error) {
	return m.view(m.Called(ctx, p, taskID, docID))
}

// OpenDocument is a mock implementation of service.TaskService.OpenDocument
func (m *TaskService) OpenDocument(
	ctx context.Context,
	p domain.Principal,
	taskID, docID uuid.UUID,
) (*service.DocumentFile, error) {
	args := m.Called(ctx, p, taskID, docID)
	if f, ok := args.Get(0).(*service.DocumentFile); ok {
		return f, args.Error(1)
	}
	return nil, args.Error(1)
}
