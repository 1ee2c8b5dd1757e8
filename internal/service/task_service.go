package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/attachment"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/phrazzld/taskboard-api/internal/redact"
	"github.com/phrazzld/taskboard-api/internal/store"
	"github.com/spf13/afero"
)

// AttachmentStore keeps the files of attached documents.
type AttachmentStore interface {
	Save(ctx context.Context, uploads []attachment.Upload) ([]domain.AttachedDocument, error)
	Remove(ctx context.Context, doc domain.AttachedDocument) bool
	RemoveAll(ctx context.Context, docs []domain.AttachedDocument) int
	Open(ctx context.Context, doc domain.AttachedDocument) (afero.File, error)
	PublicURL(doc domain.AttachedDocument) string
}

// TaskNotifier announces task changes. Implementations must not block and
// never fail the caller.
type TaskNotifier interface {
	TaskCreated(ctx context.Context, taskID uuid.UUID, task any)
	TaskUpdated(ctx context.Context, taskID uuid.UUID, task any)
	TaskDeleted(ctx context.Context, taskID uuid.UUID)
}

// TaskInput carries task fields as received from a client. An empty string
// means "not provided": on update such fields keep their current value.
type TaskInput struct {
	Title       string
	Description string
	Status      string
	Priority    string
	DueDate     string
	AssignedTo  string
}

// DocumentFile is an opened attachment. The caller must close File.
type DocumentFile struct {
	Document domain.AttachedDocument
	File     afero.File
}

// TaskService defines the task operations available to API callers. Every
// operation checks existence before authorization, so a missing task is
// reported as not found even to callers who could never see it.
type TaskService interface {
	List(ctx context.Context, p domain.Principal, params store.TaskListParams) (*TaskPage, error)
	Get(ctx context.Context, p domain.Principal, taskID uuid.UUID) (*TaskView, error)
	Create(ctx context.Context, p domain.Principal, in TaskInput, uploads []attachment.Upload) (*TaskView, error)
	Update(
		ctx context.Context,
		p domain.Principal,
		taskID uuid.UUID,
		in TaskInput,
		uploads []attachment.Upload,
	) (*TaskView, error)
	Delete(ctx context.Context, p domain.Principal, taskID uuid.UUID) error
	RemoveDocument(ctx context.Context, p domain.Principal, taskID, docID uuid.UUID) (*TaskView, error)
	OpenDocument(ctx context.Context, p domain.Principal, taskID, docID uuid.UUID) (*DocumentFile, error)
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	tasks       store.TaskStore
	users       store.UserStore
	attachments AttachmentStore
	notifier    TaskNotifier
	db          *sql.DB
	logger      *slog.Logger
}

// NewTaskService creates a new TaskService
func NewTaskService(
	tasks store.TaskStore,
	users store.UserStore,
	attachments AttachmentStore,
	notifier TaskNotifier,
	db *sql.DB,
	log *slog.Logger,
) (TaskService, error) {
	if tasks == nil || users == nil {
		return nil, errors.New("task and user stores cannot be nil")
	}
	if attachments == nil {
		return nil, errors.New("attachment store cannot be nil")
	}
	if notifier == nil {
		return nil, errors.New("notifier cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &taskServiceImpl{
		tasks:       tasks,
		users:       users,
		attachments: attachments,
		notifier:    notifier,
		db:          db,
		logger:      log.With(slog.String("component", "task_service")),
	}, nil
}

// List implements TaskService.
func (s *taskServiceImpl) List(
	ctx context.Context,
	p domain.Principal,
	params store.TaskListParams,
) (*TaskPage, error) {
	q, err := store.NewTaskQuery(p, params)
	if err != nil {
		return nil, err
	}

	tasks, total, err := s.tasks.List(ctx, q)
	if err != nil {
		s.logFailure(ctx, "list", err)
		return nil, NewServiceError("task", "list", err)
	}

	views, err := s.views(ctx, tasks...)
	if err != nil {
		return nil, err
	}
	return &TaskPage{Items: views, Pagination: store.NewPageInfo(total, q.Page)}, nil
}

// Get implements TaskService.
func (s *taskServiceImpl) Get(ctx context.Context, p domain.Principal, taskID uuid.UUID) (*TaskView, error) {
	task, err := s.authorizedTask(ctx, p, taskID, domain.ActionRead)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, task)
}

// Create implements TaskService.
// The task and its documents are written in one transaction; files stored
// for a failed create are removed.
func (s *taskServiceImpl) Create(
	ctx context.Context,
	p domain.Principal,
	in TaskInput,
	uploads []attachment.Upload,
) (*TaskView, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := s.newTask(ctx, p, in)
	if err != nil {
		return nil, err
	}

	docs, err := s.attachments.Save(ctx, uploads)
	if err != nil {
		return nil, s.uploadFailure(ctx, "create", err)
	}
	task.Attach(docs...)

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		txTasks := s.tasks.WithTx(tx)
		if err := txTasks.Create(ctx, task); err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		return txTasks.AddDocuments(ctx, task.ID, docs)
	})
	if err != nil {
		s.attachments.RemoveAll(ctx, docs)
		if errors.Is(err, store.ErrInvalidEntity) {
			return nil, domain.NewValidationError("assignedTo", "Assigned user does not exist")
		}
		s.logFailure(ctx, "create", err)
		return nil, NewServiceError("task", "create", err)
	}

	view, err := s.view(ctx, task)
	if err != nil {
		return nil, err
	}

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.Int("documents", len(docs)))
	s.notifier.TaskCreated(ctx, task.ID, view)
	return view, nil
}

// Update implements TaskService.
// The unlocked read settles existence, access and input validity before any
// file is stored. The changes are then applied to a copy re-read under a row
// lock, so concurrent partial updates of one task never overwrite each
// other's fields.
func (s *taskServiceImpl) Update(
	ctx context.Context,
	p domain.Principal,
	taskID uuid.UUID,
	in TaskInput,
	uploads []attachment.Upload,
) (*TaskView, error) {
	task, err := s.authorizedTask(ctx, p, taskID, domain.ActionUpdate)
	if err != nil {
		return nil, err
	}

	changes, err := s.parseChanges(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := task.Apply(changes); err != nil {
		return nil, err
	}

	docs, err := s.attachments.Save(ctx, uploads)
	if err != nil {
		return nil, s.uploadFailure(ctx, "update", err)
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		txTasks := s.tasks.WithTx(tx)
		locked, err := txTasks.GetByIDForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if !domain.CanAccess(p, locked, domain.ActionUpdate) {
			return &ForbiddenError{Action: domain.ActionUpdate}
		}
		if err := locked.Apply(changes); err != nil {
			return err
		}
		if err := txTasks.Update(ctx, locked); err != nil {
			return err
		}
		task = locked
		if len(docs) == 0 {
			return nil
		}
		return txTasks.AddDocuments(ctx, task.ID, docs)
	})
	if err != nil {
		s.attachments.RemoveAll(ctx, docs)
		var verr *domain.ValidationError
		switch {
		case errors.Is(err, store.ErrTaskNotFound), errors.Is(err, ErrForbidden), errors.As(err, &verr):
			return nil, err
		case errors.Is(err, store.ErrInvalidEntity):
			return nil, domain.NewValidationError("assignedTo", "Assigned user does not exist")
		}
		s.logFailure(ctx, "update", err)
		return nil, NewServiceError("task", "update", err)
	}
	task.Attach(docs...)

	view, err := s.view(ctx, task)
	if err != nil {
		return nil, err
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("task updated",
		slog.String("task_id", task.ID.String()),
		slog.Int("new_documents", len(docs)))
	s.notifier.TaskUpdated(ctx, task.ID, view)
	return view, nil
}

// Delete implements TaskService.
// Attachment files are removed best-effort before the record; the record
// is deleted whatever the outcome of the file removals.
func (s *taskServiceImpl) Delete(ctx context.Context, p domain.Principal, taskID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := s.authorizedTask(ctx, p, taskID, domain.ActionDelete)
	if err != nil {
		return err
	}

	if removed := s.attachments.RemoveAll(ctx, task.Documents); removed < len(task.Documents) {
		log.Warn("some attachment files could not be deleted",
			slog.String("task_id", taskID.String()),
			slog.Int("documents", len(task.Documents)),
			slog.Int("removed", removed))
	}

	if err := s.tasks.Delete(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return err
		}
		s.logFailure(ctx, "delete", err)
		return NewServiceError("task", "delete", err)
	}

	log.Info("task deleted", slog.String("task_id", taskID.String()))
	s.notifier.TaskDeleted(ctx, taskID)
	return nil
}

// RemoveDocument implements TaskService.
func (s *taskServiceImpl) RemoveDocument(
	ctx context.Context,
	p domain.Principal,
	taskID, docID uuid.UUID,
) (*TaskView, error) {
	task, err := s.authorizedTask(ctx, p, taskID, domain.ActionRemoveDocument)
	if err != nil {
		return nil, err
	}

	doc, ok := task.Document(docID)
	if !ok {
		return nil, store.ErrDocumentNotFound
	}

	s.attachments.Remove(ctx, doc)

	if err := s.tasks.RemoveDocument(ctx, taskID, docID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		s.logFailure(ctx, "remove_document", err)
		return nil, NewServiceError("task", "remove document", err)
	}
	task.Detach(docID)

	view, err := s.view(ctx, task)
	if err != nil {
		return nil, err
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("document removed",
		slog.String("task_id", taskID.String()),
		slog.String("document_id", docID.String()))
	s.notifier.TaskUpdated(ctx, taskID, view)
	return view, nil
}

// OpenDocument implements TaskService.
// A document whose file has disappeared from storage is reported as not found.
func (s *taskServiceImpl) OpenDocument(
	ctx context.Context,
	p domain.Principal,
	taskID, docID uuid.UUID,
) (*DocumentFile, error) {
	task, err := s.authorizedTask(ctx, p, taskID, domain.ActionDownload)
	if err != nil {
		return nil, err
	}

	doc, ok := task.Document(docID)
	if !ok {
		return nil, store.ErrDocumentNotFound
	}

	f, err := s.attachments.Open(ctx, doc)
	if err != nil {
		if errors.Is(err, attachment.ErrFileNotFound) {
			logger.FromContextOrDefault(ctx, s.logger).Warn("attachment file missing",
				slog.String("task_id", taskID.String()),
				slog.String("document_id", docID.String()))
			return nil, fmt.Errorf("%w: file missing", store.ErrDocumentNotFound)
		}
		s.logFailure(ctx, "open_document", err)
		return nil, NewServiceError("task", "open document", err)
	}
	return &DocumentFile{Document: doc, File: f}, nil
}

// authorizedTask loads the task and applies the access policy for action.
func (s *taskServiceImpl) authorizedTask(
	ctx context.Context,
	p domain.Principal,
	taskID uuid.UUID,
	action domain.Action,
) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, err
		}
		s.logFailure(ctx, "get", err)
		return nil, NewServiceError("task", "get", err)
	}

	if !domain.CanAccess(p, task, action) {
		logger.FromContextOrDefault(ctx, s.logger).Debug("task access denied",
			slog.String("task_id", taskID.String()),
			slog.String("user_id", p.UserID.String()),
			slog.String("action", string(action)))
		return nil, &ForbiddenError{Action: action}
	}
	return task, nil
}

// newTask validates create input. title, description, dueDate and
// assignedTo are required.
func (s *taskServiceImpl) newTask(ctx context.Context, p domain.Principal, in TaskInput) (*domain.Task, error) {
	v := &domain.ValidationError{}

	if in.Title == "" {
		v.Add("title", "Title is required")
	}
	if in.Description == "" {
		v.Add("description", "Description is required")
	}
	if in.DueDate == "" {
		v.Add("dueDate", "Due date is required")
	}
	if in.AssignedTo == "" {
		v.Add("assignedTo", "Assigned to is required")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	changes, err := s.parseChanges(ctx, in)
	if err != nil {
		return nil, err
	}

	var status domain.Status
	if changes.Status != nil {
		status = *changes.Status
	}
	var priority domain.Priority
	if changes.Priority != nil {
		priority = *changes.Priority
	}

	return domain.NewTask(
		*changes.Title,
		*changes.Description,
		*changes.DueDate,
		*changes.AssignedTo,
		p.UserID,
		status,
		priority,
	)
}

// parseChanges converts the non-empty input fields into typed changes and
// checks that a new assignee exists.
func (s *taskServiceImpl) parseChanges(ctx context.Context, in TaskInput) (domain.TaskChanges, error) {
	var c domain.TaskChanges
	v := &domain.ValidationError{}

	if in.Title != "" {
		c.Title = &in.Title
	}
	if in.Description != "" {
		c.Description = &in.Description
	}
	if in.Status != "" {
		status := domain.Status(in.Status)
		if !status.Valid() {
			v.Add("status", "Status must be todo, in-progress or done")
		}
		c.Status = &status
	}
	if in.Priority != "" {
		priority := domain.Priority(in.Priority)
		if !priority.Valid() {
			v.Add("priority", "Priority must be low, medium or high")
		}
		c.Priority = &priority
	}
	if in.DueDate != "" {
		due, err := store.ParseDate(in.DueDate)
		if err != nil {
			v.Add("dueDate", "Due date must be a valid date")
		}
		c.DueDate = &due
	}
	if in.AssignedTo != "" {
		id, err := uuid.Parse(in.AssignedTo)
		if err != nil {
			v.Add("assignedTo", "Assigned to must be a valid user id")
		} else if _, err := s.users.GetByID(ctx, id); err != nil {
			if !errors.Is(err, store.ErrUserNotFound) {
				s.logFailure(ctx, "resolve_assignee", err)
				return c, NewServiceError("task", "resolve assignee", err)
			}
			v.Add("assignedTo", "Assigned user does not exist")
		}
		c.AssignedTo = &id
	}

	return c, v.OrNil()
}

func (s *taskServiceImpl) view(ctx context.Context, task *domain.Task) (*TaskView, error) {
	views, err := s.views(ctx, task)
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// views resolves user projections for all tasks with one lookup.
func (s *taskServiceImpl) views(ctx context.Context, tasks ...*domain.Task) ([]*TaskView, error) {
	out := make([]*TaskView, 0, len(tasks))
	if len(tasks) == 0 {
		return out, nil
	}

	users, err := s.users.Summaries(ctx, referencedUsers(tasks...))
	if err != nil {
		s.logFailure(ctx, "resolve_users", err)
		return nil, NewServiceError("task", "resolve users", err)
	}
	for _, t := range tasks {
		out = append(out, newTaskView(t, users, s.attachments.PublicURL))
	}
	return out, nil
}

// uploadFailure passes validation errors through and wraps the rest.
func (s *taskServiceImpl) uploadFailure(ctx context.Context, op string, err error) error {
	if errors.Is(err, domain.ErrValidation) {
		return err
	}
	s.logFailure(ctx, op+"_upload", err)
	return NewServiceError("task", op, err)
}

func (s *taskServiceImpl) logFailure(ctx context.Context, op string, err error) {
	logger.FromContextOrDefault(ctx, s.logger).Error("task operation failed",
		slog.String("operation", op),
		slog.String("error", redact.Error(err)))
}
