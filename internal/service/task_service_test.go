package service_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/attachment"
	"github.com/phrazzld/taskboard-api/internal/config"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/events"
	"github.com/phrazzld/taskboard-api/internal/mocks"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/phrazzld/taskboard-api/internal/service"
	"github.com/phrazzld/taskboard-api/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uploadsDir = "/srv/uploads"

type taskFixture struct {
	svc     service.TaskService
	users   *mocks.MockUserStore
	tasks   *mocks.MockTaskStore
	fs      afero.Fs
	files   *attachment.Manager
	channel *events.MemoryChannel
	sql     sqlmock.Sqlmock
	logs    *logger.TestLogBuffer

	admin *domain.User
	alice *domain.User
	bob   *domain.User
}

func newUser(t *testing.T, name string, role domain.Role) *domain.User {
	t.Helper()
	u, err := domain.NewUser(name, strings.ToLower(name)+"@example.com", "secret123", role)
	require.NoError(t, err)
	u.HashedPassword = mocks.HashOf("secret123")
	u.Password = ""
	return u
}

func newTxDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	log, buf := logger.NewTestLogger()

	f := &taskFixture{
		admin: newUser(t, "Admin", domain.RoleAdmin),
		alice: newUser(t, "Alice", domain.RoleUser),
		bob:   newUser(t, "Bob", domain.RoleUser),
		fs:    afero.NewMemMapFs(),
		logs:  buf,
	}
	f.users = mocks.NewMockUserStore(f.admin, f.alice, f.bob)
	f.tasks = mocks.NewMockTaskStore()
	f.tasks.Users = f.users

	files, err := attachment.NewManager(f.fs, config.StorageConfig{
		UploadsDir:   uploadsDir,
		PublicPrefix: "/uploads",
		MaxFileSize:  1 << 20,
	}, log)
	require.NoError(t, err)
	f.files = files

	f.channel = events.NewMemoryChannel(log)
	t.Cleanup(func() { _ = f.channel.Close() })

	db, mock := newTxDB(t)
	f.sql = mock

	f.svc, err = service.NewTaskService(f.tasks, f.users, files, events.NewBroadcaster(f.channel, log), db, log)
	require.NoError(t, err)
	return f
}

func principal(u *domain.User) domain.Principal {
	return domain.Principal{UserID: u.ID, Role: u.Role}
}

func (f *taskFixture) expectCommit() {
	f.sql.ExpectBegin()
	f.sql.ExpectCommit()
}

func (f *taskFixture) expectRollback() {
	f.sql.ExpectBegin()
	f.sql.ExpectRollback()
}

func (f *taskFixture) create(
	t *testing.T,
	by *domain.User,
	in service.TaskInput,
	uploads ...attachment.Upload,
) *service.TaskView {
	t.Helper()
	f.expectCommit()
	view, err := f.svc.Create(context.Background(), principal(by), in, uploads)
	require.NoError(t, err)
	return view
}

func (f *taskFixture) fileCount(t *testing.T) int {
	t.Helper()
	entries, err := afero.ReadDir(f.fs, uploadsDir)
	require.NoError(t, err)
	return len(entries)
}

func input(title string, assignee *domain.User, due string) service.TaskInput {
	return service.TaskInput{
		Title:       title,
		Description: title + " description",
		DueDate:     due,
		AssignedTo:  assignee.ID.String(),
	}
}

func upload(name, contentType, body string) attachment.Upload {
	return attachment.Upload{
		FileName:    name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func nextEvent(t *testing.T, sub events.Subscription) *events.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestTaskService_CreateDefaultsAndProjections(t *testing.T) {
	f := newTaskFixture(t)

	view := f.create(t, f.alice, input("Write report", f.bob, "2025-01-10"))

	assert.Equal(t, "Write report", view.Title)
	assert.Equal(t, domain.StatusTodo, view.Status)
	assert.Equal(t, domain.PriorityMedium, view.Priority)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), view.DueDate)
	assert.Equal(t, f.bob.Summary(), view.AssignedTo)
	assert.Equal(t, f.alice.Summary(), view.CreatedBy)
	assert.Empty(t, view.Documents)
	assert.Equal(t, 1, f.tasks.Len())
}

func TestTaskService_CreateValidation(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	p := principal(f.alice)

	_, err := f.svc.Create(ctx, p, service.TaskInput{}, nil)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 4)

	in := input("Bad", f.bob, "2025-01-10")
	in.Status = "blocked"
	in.Priority = "urgent"
	_, err = f.svc.Create(ctx, p, in, nil)
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 2)

	in = input("Bad", f.bob, "not-a-date")
	_, err = f.svc.Create(ctx, p, in, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	in = input("Bad", f.bob, "2025-01-10")
	in.AssignedTo = uuid.NewString()
	_, err = f.svc.Create(ctx, p, in, nil)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "assignedTo", verr.Fields[0].Field)

	assert.Equal(t, 0, f.tasks.Len())
}

func TestTaskService_CreateRejectsTooManyFiles(t *testing.T) {
	f := newTaskFixture(t)

	uploads := []attachment.Upload{
		upload("1.txt", "text/plain", "1"),
		upload("2.txt", "text/plain", "2"),
		upload("3.txt", "text/plain", "3"),
		upload("4.txt", "text/plain", "4"),
	}
	_, err := f.svc.Create(context.Background(), principal(f.alice), input("Files", f.bob, "2025-01-10"), uploads)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, f.fileCount(t))
	assert.Equal(t, 0, f.tasks.Len())
}

func TestTaskService_CreateFailureRemovesUploadedFiles(t *testing.T) {
	f := newTaskFixture(t)
	f.tasks.CreateFn = func(context.Context, *domain.Task) error {
		return errors.New("connection reset")
	}

	f.expectRollback()
	_, err := f.svc.Create(context.Background(), principal(f.alice), input("Doomed", f.bob, "2025-01-10"),
		[]attachment.Upload{upload("a.txt", "text/plain", "a"), upload("b.txt", "text/plain", "b")})

	require.Error(t, err)
	var serviceErr *service.ServiceError
	assert.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, 0, f.fileCount(t))
}

func TestTaskService_ListVisibility(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	f.create(t, f.admin, input("admin to alice", f.alice, "2025-01-01"))
	f.create(t, f.admin, input("admin to bob", f.bob, "2025-01-02"))
	f.create(t, f.alice, input("alice to bob", f.bob, "2025-01-03"))
	f.create(t, f.bob, input("bob to bob", f.bob, "2025-01-04"))
	f.create(t, f.admin, input("admin to admin", f.admin, "2025-01-05"))

	for _, u := range []*domain.User{f.alice, f.bob} {
		page, err := f.svc.List(ctx, principal(u), store.TaskListParams{})
		require.NoError(t, err)
		for _, item := range page.Items {
			assert.True(t, item.AssignedTo.ID == u.ID || item.CreatedBy.ID == u.ID,
				"%s sees unrelated task %q", u.Name, item.Title)
		}
		assert.Equal(t, len(page.Items), page.Pagination.Total)
	}

	alicePage, err := f.svc.List(ctx, principal(f.alice), store.TaskListParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, alicePage.Pagination.Total)

	adminPage, err := f.svc.List(ctx, principal(f.admin), store.TaskListParams{})
	require.NoError(t, err)
	assert.Equal(t, 5, adminPage.Pagination.Total)
}

func TestTaskService_ListFiltersSortAndPaging(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	p := principal(f.admin)

	for _, title := range []string{"c", "a", "e", "b", "d"} {
		in := input(title, f.alice, "2025-02-01")
		if title == "a" || title == "b" {
			in.Priority = "high"
		}
		f.create(t, f.admin, in)
	}

	page, err := f.svc.List(ctx, p, store.TaskListParams{SortBy: "title:asc", Limit: "2", Page: "2"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].Title)
	assert.Equal(t, "d", page.Items[1].Title)
	assert.Equal(t, store.PageInfo{Total: 5, Pages: 3, Page: 2, Limit: 2}, page.Pagination)

	page, err = f.svc.List(ctx, p, store.TaskListParams{Priority: "high", SortBy: "title:desc"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "b", page.Items[0].Title)

	_, err = f.svc.List(ctx, p, store.TaskListParams{Status: "archived"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTaskService_DueDateRangeIsInclusive(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	p := principal(f.alice)

	created := f.create(t, f.alice, input("Due", f.alice, "2025-01-10"))

	contains := func(params store.TaskListParams) bool {
		page, err := f.svc.List(ctx, p, params)
		require.NoError(t, err)
		for _, item := range page.Items {
			if item.ID == created.ID {
				return true
			}
		}
		return false
	}

	assert.True(t, contains(store.TaskListParams{}))
	assert.False(t, contains(store.TaskListParams{FromDate: "2025-01-11"}))
	assert.True(t, contains(store.TaskListParams{ToDate: "2025-01-10"}))
	assert.True(t, contains(store.TaskListParams{FromDate: "2025-01-10", ToDate: "2025-01-10"}))
}

func TestTaskService_GetAccess(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task := f.create(t, f.admin, input("For alice", f.alice, "2025-03-01"))

	_, err := f.svc.Get(ctx, principal(f.bob), task.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)

	got, err := f.svc.Get(ctx, principal(f.alice), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	_, err = f.svc.Get(ctx, principal(f.bob), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskService_AssigneeCannotUpdateOrDelete(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task := f.create(t, f.alice, input("Alice's", f.bob, "2025-03-01"))

	_, err := f.svc.Get(ctx, principal(f.bob), task.ID)
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, principal(f.bob), task.ID, service.TaskInput{Status: "done"}, nil)
	assert.ErrorIs(t, err, service.ErrForbidden)
	var refused *service.ForbiddenError
	require.ErrorAs(t, err, &refused)
	assert.Equal(t, domain.ActionUpdate, refused.Action)

	err = f.svc.Delete(ctx, principal(f.bob), task.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)
	require.ErrorAs(t, err, &refused)
	assert.Equal(t, domain.ActionDelete, refused.Action)

	_, err = f.svc.Update(ctx, principal(f.bob), uuid.New(), service.TaskInput{Status: "done"}, nil)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskService_PartialUpdate(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	before := f.create(t, f.alice, input("Keep me", f.bob, "2025-04-01"))

	f.expectCommit()
	after, err := f.svc.Update(ctx, principal(f.alice), before.ID,
		service.TaskInput{Priority: "high", Title: "", Description: ""}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.PriorityHigh, after.Priority)
	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, before.Description, after.Description)
	assert.Equal(t, before.DueDate, after.DueDate)
	assert.Equal(t, before.AssignedTo, after.AssignedTo)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.CreatedBy, after.CreatedBy)
}

func TestTaskService_UpdateKeepsConcurrentChanges(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task := f.create(t, f.alice, input("Contended", f.bob, "2025-04-01"))

	// Another request sets the status after this update's first read but
	// before it takes the row lock.
	f.tasks.BeforeLockedRead = func(ctx context.Context, id uuid.UUID) {
		f.tasks.BeforeLockedRead = nil
		other, err := f.tasks.GetByID(ctx, id)
		require.NoError(t, err)
		other.Status = domain.StatusDone
		require.NoError(t, f.tasks.Update(ctx, other))
	}

	f.expectCommit()
	updated, err := f.svc.Update(ctx, principal(f.alice), task.ID, service.TaskInput{Priority: "high"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, updated.Priority)
	assert.Equal(t, domain.StatusDone, updated.Status)

	stored, err := f.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, stored.Priority)
	assert.Equal(t, domain.StatusDone, stored.Status)
}

func TestTaskService_UpdateOfTaskDeletedMeanwhile(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task := f.create(t, f.alice, input("Vanishing", f.alice, "2025-04-01"))
	f.tasks.BeforeLockedRead = func(ctx context.Context, id uuid.UUID) {
		require.NoError(t, f.tasks.Delete(ctx, id))
	}

	f.expectRollback()
	_, err := f.svc.Update(ctx, principal(f.alice), task.ID, service.TaskInput{Status: "done"},
		[]attachment.Upload{upload("late.txt", "text/plain", "x")})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.Equal(t, 0, f.fileCount(t))
}

func TestTaskService_AdminUpdateKeepsCreator(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task := f.create(t, f.alice, input("Reassign", f.alice, "2025-04-01"))

	f.expectCommit()
	updated, err := f.svc.Update(ctx, principal(f.admin), task.ID,
		service.TaskInput{AssignedTo: f.bob.ID.String(), Status: "in-progress"}, nil)
	require.NoError(t, err)
	assert.Equal(t, f.bob.Summary(), updated.AssignedTo)
	assert.Equal(t, f.alice.Summary(), updated.CreatedBy)
	assert.Equal(t, domain.StatusInProgress, updated.Status)

	stored, err := f.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, stored.CreatedBy)
}

func TestTaskService_UpdateAppendsDocuments(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task := f.create(t, f.alice, input("Docs", f.alice, "2025-04-01"), upload("one.txt", "text/plain", "1"))

	f.expectCommit()
	updated, err := f.svc.Update(ctx, principal(f.alice), task.ID, service.TaskInput{},
		[]attachment.Upload{upload("two.txt", "text/plain", "2"), upload("three.txt", "text/plain", "3")})
	require.NoError(t, err)

	require.Len(t, updated.Documents, 3)
	assert.Equal(t, "one.txt", updated.Documents[0].FileName)
	assert.Equal(t, "two.txt", updated.Documents[1].FileName)
	assert.Equal(t, "three.txt", updated.Documents[2].FileName)
	assert.Equal(t, "1 Bytes", updated.Documents[0].FileSizeHuman)
	assert.True(t, strings.HasPrefix(updated.Documents[0].URL, "/uploads/"))
	assert.Equal(t, 3, f.fileCount(t))
}

func TestTaskService_DeleteRemovesFilesAndRecord(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task := f.create(t, f.alice, input("Delete me", f.bob, "2025-05-01"),
		upload("a.txt", "text/plain", "a"),
		upload("b.txt", "text/plain", "b"),
		upload("c.txt", "text/plain", "c"))
	require.Equal(t, 3, f.fileCount(t))

	require.NoError(t, f.svc.Delete(ctx, principal(f.alice), task.ID))
	assert.Equal(t, 0, f.fileCount(t))

	_, err := f.tasks.GetByID(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskService_DeleteSurvivesFileFailures(t *testing.T) {
	ctx := context.Background()
	base := afero.NewMemMapFs()
	log, buf := logger.NewTestLogger()
	cfg := config.StorageConfig{UploadsDir: uploadsDir, PublicPrefix: "/uploads"}

	writable, err := attachment.NewManager(base, cfg, log)
	require.NoError(t, err)
	docs, err := writable.Save(ctx, []attachment.Upload{upload("a.txt", "text/plain", "a"), upload("b.txt", "text/plain", "b")})
	require.NoError(t, err)

	owner := newUser(t, "Owner", domain.RoleUser)
	task, err := domain.NewTask("Stuck", "files cannot be removed", time.Now(), owner.ID, owner.ID, "", "")
	require.NoError(t, err)
	task.Attach(docs...)

	readOnly, err := attachment.NewManager(afero.NewReadOnlyFs(base), cfg, log)
	require.NoError(t, err)

	tasks := mocks.NewMockTaskStore(task)
	svc, err := service.NewTaskService(tasks, mocks.NewMockUserStore(owner), readOnly,
		events.NewBroadcaster(events.NewMemoryChannel(log), log), nil, log)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, principal(owner), task.ID))
	assert.Equal(t, 0, tasks.Len())
	assert.Contains(t, buf.String(), "failed to delete attachment file")
	assert.Contains(t, buf.String(), "some attachment files could not be deleted")
}

func TestTaskService_DocumentRoundTrip(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task := f.create(t, f.admin, input("Docs", f.alice, "2025-06-01"),
		upload("brief.pdf", "application/pdf", "%PDF-1.4"),
		upload("notes.txt", "text/plain", "hello"))
	require.Len(t, task.Documents, 2)

	for _, doc := range task.Documents {
		opened, err := f.svc.OpenDocument(ctx, principal(f.alice), task.ID, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.FileName, opened.Document.FileName)
		assert.Equal(t, doc.FileType, opened.Document.FileType)
		require.NoError(t, opened.File.Close())
	}

	first, second := task.Documents[0], task.Documents[1]

	_, err := f.svc.RemoveDocument(ctx, principal(f.alice), task.ID, first.ID)
	assert.ErrorIs(t, err, service.ErrForbidden, "assignee may not remove documents")

	updated, err := f.svc.RemoveDocument(ctx, principal(f.admin), task.ID, first.ID)
	require.NoError(t, err)
	require.Len(t, updated.Documents, 1)
	assert.Equal(t, second.ID, updated.Documents[0].ID)

	_, err = f.svc.OpenDocument(ctx, principal(f.alice), task.ID, first.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	opened, err := f.svc.OpenDocument(ctx, principal(f.alice), task.ID, second.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(opened.File)
	require.NoError(t, err)
	require.NoError(t, opened.File.Close())
	assert.Equal(t, "hello", string(data))

	_, err = f.svc.RemoveDocument(ctx, principal(f.admin), task.ID, first.ID)
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)

	_, err = f.svc.OpenDocument(ctx, principal(f.bob), task.ID, second.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestTaskService_OpenDocumentWithMissingFile(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task := f.create(t, f.alice, input("Lost", f.alice, "2025-06-01"), upload("x.txt", "text/plain", "x"))
	doc := task.Documents[0]

	require.NoError(t, f.fs.RemoveAll(uploadsDir))

	_, err := f.svc.OpenDocument(ctx, principal(f.alice), task.ID, doc.ID)
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
}

func TestTaskService_BroadcastsAfterPersistence(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	global, err := f.channel.Subscribe(ctx, events.GlobalTopic)
	require.NoError(t, err)

	task := f.create(t, f.alice, input("Live", f.bob, "2025-07-01"))
	ev := nextEvent(t, global)
	assert.Equal(t, events.TaskCreated, ev.Name)
	var created service.TaskView
	require.NoError(t, ev.UnmarshalData(&created))
	assert.Equal(t, task.ID, created.ID)

	room, err := f.channel.Subscribe(ctx, events.TaskTopic(task.ID))
	require.NoError(t, err)

	f.expectCommit()
	_, err = f.svc.Update(ctx, principal(f.alice), task.ID, service.TaskInput{Status: "done"}, nil)
	require.NoError(t, err)
	ev = nextEvent(t, room)
	assert.Equal(t, events.TaskUpdate, ev.Name)

	require.NoError(t, f.svc.Delete(ctx, principal(f.alice), task.ID))
	ev = nextEvent(t, global)
	assert.Equal(t, events.TaskDeleted, ev.Name)
	var deleted events.TaskDeletedPayload
	require.NoError(t, ev.UnmarshalData(&deleted))
	assert.Equal(t, task.ID, deleted.TaskID)

	// Failed operations publish nothing.
	f.tasks.DeleteFn = func(context.Context, uuid.UUID) error { return errors.New("db down") }
	other := f.create(t, f.alice, input("Other", f.bob, "2025-07-01"))
	assert.Equal(t, events.TaskCreated, nextEvent(t, global).Name)
	require.Error(t, f.svc.Delete(ctx, principal(f.alice), other.ID))
	select {
	case ev := <-global.Events():
		t.Fatalf("unexpected %s event after failed delete", ev.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewTaskService_RequiresDependencies(t *testing.T) {
	_, err := service.NewTaskService(nil, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}
