package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/service"
	"github.com/stretchr/testify/mock"
)

// UserService is a testify mock of service.UserService.
type UserService struct {
	mock.Mock
}

var _ service.UserService = (*UserService)(nil)

func (m *UserService) user(args mock.Arguments) (*domain.User, error) {
	if u, ok := args.Get(0).(*domain.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

// Register is a mock implementation of service.UserService.Register
func (m *UserService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	return m.user(m.Called(ctx, name, email, password))
}

// Authenticate is a mock implementation of service.UserService.Authenticate
func (m *UserService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	return m.user(m.Called(ctx, email, password))
}

// GetUser is a mock implementation of service.UserService.GetUser
func (m *UserService) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return m.user(m.Called(ctx, userID))
}

// ListUsers is a mock implementation of service.UserService.ListUsers
func (m *UserService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	args := m.Called(ctx)
	if users, ok := args.Get(0).([]*domain.User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}

// CreateUser is a mock implementation of service.UserService.CreateUser
func (m *UserService) CreateUser(
	ctx context.Context,
	name, email, password string,
	role domain.Role,
) (*domain.User, error) {
	return m.user(m.Called(ctx, name, email, password, role))
}

// UpdateUser is a mock implementation of service.UserService.UpdateUser
func (m *UserService) UpdateUser(
	ctx context.Context,
	userID uuid.UUID,
	changes service.UserChanges,
) (*domain.User, error) {
	return m.user(m.Called(ctx, userID, changes))
}

// DeleteUser is a mock implementation of service.UserService.DeleteUser
func (m *UserService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}
