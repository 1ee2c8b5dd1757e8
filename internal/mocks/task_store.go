package mocks

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/store"
)

// MockTaskStore implements store.TaskStore in memory, filtering and sorting
// with the same rules the SQL store applies.
type MockTaskStore struct {
	CreateFn         func(ctx context.Context, task *domain.Task) error
	UpdateFn         func(ctx context.Context, task *domain.Task) error
	DeleteFn         func(ctx context.Context, id uuid.UUID) error
	AddDocumentsFn   func(ctx context.Context, taskID uuid.UUID, docs []domain.AttachedDocument) error
	RemoveDocumentFn func(ctx context.Context, taskID, docID uuid.UUID) error

	// BeforeLockedRead is called before GetByIDForUpdate is served.
	BeforeLockedRead func(ctx context.Context, id uuid.UUID)

	// Users, when set, is consulted to reject tasks referencing unknown users.
	Users *MockUserStore

	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

// NewMockTaskStore creates a store seeded with tasks.
func NewMockTaskStore(tasks ...*domain.Task) *MockTaskStore {
	m := &MockTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
	for _, t := range tasks {
		m.tasks[t.ID] = cloneTask(t)
	}
	return m
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.Documents = slices.Clone(t.Documents)
	return &c
}

// Len returns the number of stored tasks.
func (m *MockTaskStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *MockTaskStore) checkUsers(ctx context.Context, task *domain.Task) error {
	if m.Users == nil {
		return nil
	}
	for _, id := range []uuid.UUID{task.AssignedTo, task.CreatedBy} {
		if _, err := m.Users.GetByID(ctx, id); err != nil {
			return fmt.Errorf("%w: unknown user %s", store.ErrInvalidEntity, id)
		}
	}
	return nil
}

// Create implements store.TaskStore.
func (m *MockTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, task)
	}
	if err := task.Validate(); err != nil {
		return err
	}
	if err := m.checkUsers(ctx, task); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := cloneTask(task)
	c.Documents = nil
	m.tasks[task.ID] = c
	return nil
}

// GetByID implements store.TaskStore.
func (m *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// GetByIDForUpdate implements store.TaskStore.
func (m *MockTaskStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if m.BeforeLockedRead != nil {
		m.BeforeLockedRead(ctx, id)
	}
	return m.GetByID(ctx, id)
}

// List implements store.TaskStore.
func (m *MockTaskStore) List(ctx context.Context, q store.TaskQuery) ([]*domain.Task, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.Task
	for _, t := range m.tasks {
		if q.Filter.Matches(t) {
			matched = append(matched, t)
		}
	}
	slices.SortFunc(matched, func(a, b *domain.Task) int {
		switch {
		case q.Sort.Less(a, b):
			return -1
		case q.Sort.Less(b, a):
			return 1
		default:
			return 0
		}
	})

	total := len(matched)
	start := min(q.Page.Offset(), total)
	end := min(start+q.Page.Limit, total)

	out := make([]*domain.Task, 0, end-start)
	for _, t := range matched[start:end] {
		out = append(out, cloneTask(t))
	}
	return out, total, nil
}

// Update implements store.TaskStore.
func (m *MockTaskStore) Update(ctx context.Context, task *domain.Task) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, task)
	}
	if err := m.checkUsers(ctx, task); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tasks[task.ID]
	if !ok {
		return store.ErrTaskNotFound
	}
	c := cloneTask(task)
	c.CreatedBy = existing.CreatedBy
	c.CreatedAt = existing.CreatedAt
	c.Documents = existing.Documents
	m.tasks[task.ID] = c
	return nil
}

// Delete implements store.TaskStore.
func (m *MockTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

// AddDocuments implements store.TaskStore.
func (m *MockTaskStore) AddDocuments(ctx context.Context, taskID uuid.UUID, docs []domain.AttachedDocument) error {
	if m.AddDocumentsFn != nil {
		return m.AddDocumentsFn(ctx, taskID, docs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.Attach(docs...)
	return nil
}

// RemoveDocument implements store.TaskStore.
func (m *MockTaskStore) RemoveDocument(ctx context.Context, taskID, docID uuid.UUID) error {
	if m.RemoveDocumentFn != nil {
		return m.RemoveDocumentFn(ctx, taskID, docID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || !t.Detach(docID) {
		return store.ErrDocumentNotFound
	}
	return nil
}

// WithTx returns the receiver.
func (m *MockTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return m
}
