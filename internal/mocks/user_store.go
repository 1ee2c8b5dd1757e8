package mocks

import (
	"context"
	"database/sql"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/store"
)

// MockUserStore implements store.UserStore in memory.
type MockUserStore struct {
	// Function fields for customizable behavior
	CreateFn     func(ctx context.Context, user *domain.User) error
	GetByEmailFn func(ctx context.Context, email string) (*domain.User, error)
	GetByIDFn    func(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UpdateFn     func(ctx context.Context, user *domain.User) error
	DeleteFn     func(ctx context.Context, id uuid.UUID) error

	// InUse marks users that tasks still reference; deleting them fails.
	InUse map[uuid.UUID]bool

	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

// NewMockUserStore creates an empty store.
func NewMockUserStore(users ...*domain.User) *MockUserStore {
	m := &MockUserStore{
		InUse: make(map[uuid.UUID]bool),
		users: make(map[uuid.UUID]*domain.User),
	}
	for _, u := range users {
		m.users[u.ID] = cloneUser(u)
	}
	return m
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.Password = ""
	return &c
}

func (m *MockUserStore) findByEmail(email string) *domain.User {
	email = domain.NormalizeEmail(email)
	for _, u := range m.users {
		if domain.NormalizeEmail(u.Email) == email {
			return u
		}
	}
	return nil
}

// Create implements store.UserStore.
func (m *MockUserStore) Create(ctx context.Context, user *domain.User) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.HashedPassword == "" {
		return store.ErrInvalidEntity
	}
	if m.findByEmail(user.Email) != nil {
		return store.ErrEmailExists
	}
	m.users[user.ID] = cloneUser(user)
	return nil
}

// GetByID implements store.UserStore.
func (m *MockUserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// GetByEmail implements store.UserStore.
func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.GetByEmailFn != nil {
		return m.GetByEmailFn(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.findByEmail(email)
	if u == nil {
		return nil, store.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// List implements store.UserStore.
func (m *MockUserStore) List(ctx context.Context) ([]*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	slices.SortFunc(out, func(a, b *domain.User) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

// Summaries implements store.UserStore.
func (m *MockUserStore) Summaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.UserSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[uuid.UUID]domain.UserSummary, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u.Summary()
		}
	}
	return out, nil
}

// Update implements store.UserStore.
func (m *MockUserStore) Update(ctx context.Context, user *domain.User) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; !ok {
		return store.ErrUserNotFound
	}
	if other := m.findByEmail(user.Email); other != nil && other.ID != user.ID {
		return store.ErrEmailExists
	}
	m.users[user.ID] = cloneUser(user)
	return nil
}

// Delete implements store.UserStore.
func (m *MockUserStore) Delete(ctx context.Context, id uuid.UUID) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return store.ErrUserNotFound
	}
	if m.InUse[id] {
		return store.ErrUserInUse
	}
	delete(m.users, id)
	return nil
}

// WithTx returns the receiver.
func (m *MockUserStore) WithTx(tx *sql.Tx) store.UserStore {
	return m
}
