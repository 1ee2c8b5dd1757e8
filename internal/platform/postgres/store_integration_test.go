//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/platform/postgres"
	"github.com/phrazzld/taskboard-api/internal/store"
	"github.com/phrazzld/taskboard-api/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createUser(t *testing.T, users store.UserStore, name string, role domain.Role) *domain.User {
	t.Helper()
	user, err := domain.NewUser(name, name+"-"+uuid.NewString()[:8]+"@example.com", "secret1", role)
	require.NoError(t, err)
	user.HashedPassword = "$2a$10$integrationhash"
	require.NoError(t, users.Create(context.Background(), user))
	return user
}

func createTask(t *testing.T, tasks store.TaskStore, creator, assignee uuid.UUID, due time.Time) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("Integration", "Round trip", due, assignee, creator, "", "")
	require.NoError(t, err)
	require.NoError(t, tasks.Create(context.Background(), task))
	return task
}

func TestUserStore_Integration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		users := postgres.NewPostgresUserStore(tx, nil)

		user := createUser(t, users, "jane", domain.RoleUser)

		found, err := users.GetByEmail(ctx, user.Email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)

		dup := *user
		dup.ID = uuid.New()
		assert.ErrorIs(t, users.Create(ctx, &dup), store.ErrEmailExists)

		user.Role = domain.RoleAdmin
		require.NoError(t, users.Update(ctx, user))
		found, err = users.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RoleAdmin, found.Role)

		require.NoError(t, users.Delete(ctx, user.ID))
		_, err = users.GetByID(ctx, user.ID)
		assert.ErrorIs(t, err, store.ErrUserNotFound)
	})
}

func TestTaskStore_Integration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		users := postgres.NewPostgresUserStore(tx, nil)
		tasks := postgres.NewPostgresTaskStore(tx, nil)

		admin := createUser(t, users, "admin", domain.RoleAdmin)
		alice := createUser(t, users, "alice", domain.RoleUser)
		bob := createUser(t, users, "bob", domain.RoleUser)

		due := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
		task := createTask(t, tasks, admin.ID, alice.ID, due)

		docs := []domain.AttachedDocument{
			{ID: uuid.New(), FileName: "a.pdf", FilePath: "1-a.pdf", FileType: "application/pdf", FileSize: 10, CreatedAt: time.Now().UTC()},
			{ID: uuid.New(), FileName: "b.txt", FilePath: "2-b.txt", FileType: "text/plain", FileSize: 20, CreatedAt: time.Now().UTC()},
		}
		require.NoError(t, tasks.AddDocuments(ctx, task.ID, docs))

		got, err := tasks.GetByID(ctx, task.ID)
		require.NoError(t, err)
		require.Len(t, got.Documents, 2)
		assert.Equal(t, "a.pdf", got.Documents[0].FileName)

		list := func(p domain.Principal, params store.TaskListParams) []*domain.Task {
			q, err := store.NewTaskQuery(p, params)
			require.NoError(t, err)
			items, _, err := tasks.List(ctx, q)
			require.NoError(t, err)
			return items
		}

		alicePrincipal := domain.Principal{UserID: alice.ID, Role: domain.RoleUser}
		bobPrincipal := domain.Principal{UserID: bob.ID, Role: domain.RoleUser}

		assert.Len(t, list(alicePrincipal, store.TaskListParams{}), 1)
		assert.Empty(t, list(bobPrincipal, store.TaskListParams{}))
		assert.Empty(t, list(alicePrincipal, store.TaskListParams{FromDate: "2025-01-11"}))
		assert.Len(t, list(alicePrincipal, store.TaskListParams{ToDate: "2025-01-10"}), 1)

		require.NoError(t, tasks.RemoveDocument(ctx, task.ID, docs[0].ID))
		assert.ErrorIs(t, tasks.RemoveDocument(ctx, task.ID, docs[0].ID), store.ErrDocumentNotFound)

		require.NoError(t, tasks.Delete(ctx, task.ID))
		_, err = tasks.GetByID(ctx, task.ID)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)

		// The failed delete aborts the transaction, so it runs last.
		createTask(t, tasks, bob.ID, alice.ID, due)
		assert.ErrorIs(t, users.Delete(ctx, alice.ID), store.ErrUserInUse)
	})
}

func TestTaskStore_LockedUpdatesKeepEachOthersFields(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	ctx := context.Background()
	users := postgres.NewPostgresUserStore(db, nil)
	tasks := postgres.NewPostgresTaskStore(db, nil)

	owner := createUser(t, users, "owner", domain.RoleUser)
	task := createTask(t, tasks, owner.ID, owner.ID, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	t.Cleanup(func() {
		_ = tasks.Delete(ctx, task.ID)
		_ = users.Delete(ctx, owner.ID)
	})

	update := func(change func(*domain.Task), locked chan<- struct{}, release <-chan struct{}) error {
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			txTasks := tasks.WithTx(tx)
			current, err := txTasks.GetByIDForUpdate(ctx, task.ID)
			if err != nil {
				return err
			}
			if locked != nil {
				close(locked)
				<-release
			}
			change(current)
			return txTasks.Update(ctx, current)
		})
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- update(func(t *domain.Task) { t.Priority = domain.PriorityHigh }, locked, release)
	}()
	<-locked

	second := make(chan error, 1)
	go func() {
		second <- update(func(t *domain.Task) { t.Status = domain.StatusDone }, nil, nil)
	}()

	select {
	case err := <-second:
		t.Fatalf("second update finished while the row was locked: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	close(release)

	require.NoError(t, <-first)
	require.NoError(t, <-second)

	got, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
	assert.Equal(t, domain.StatusDone, got.Status)
}
