package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/phrazzld/taskboard-api/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
// Attached documents live in the task_documents table keyed by (task_id, id).
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

const (
	taskColumns = `id, title, description, status, priority, due_date, assigned_to, created_by, created_at, updated_at`
	docColumns  = `id, task_id, file_name, file_path, file_type, file_size, created_at`
)

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx, logger: s.logger}
}

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		task.DueDate,
		task.AssignedTo,
		task.CreatedBy,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			log.Warn("task references unknown user",
				slog.String("task_id", task.ID.String()),
				slog.String("assigned_to", task.AssignedTo.String()))
			return fmt.Errorf("%w: assigned user %s not found", store.ErrInvalidEntity, task.AssignedTo)
		}
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Debug("task created", slog.String("task_id", task.ID.String()))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.getByID(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
}

// GetByIDForUpdate implements store.TaskStore.GetByIDForUpdate
func (s *PostgresTaskStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.getByID(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)
}

func (s *PostgresTaskStore) getByID(ctx context.Context, query string, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	if err := s.loadDocuments(ctx, []*domain.Task{task}); err != nil {
		return nil, err
	}
	return task, nil
}

// List implements store.TaskStore.List
func (s *PostgresTaskStore) List(ctx context.Context, q store.TaskQuery) ([]*domain.Task, int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	countSQL, pageSQL, args := buildListQuery(q)

	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		log.Error("failed to count tasks", slog.String("error", err.Error()))
		return nil, 0, MapError(err)
	}

	pageArgs := append(append([]any{}, args...), q.Page.Limit, q.Page.Offset())
	rows, err := s.db.QueryContext(ctx, pageSQL, pageArgs...)
	if err != nil {
		log.Error("failed to list tasks", slog.String("error", err.Error()))
		return nil, 0, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", slog.String("error", err.Error()))
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, MapError(err)
	}

	if err := s.loadDocuments(ctx, tasks); err != nil {
		return nil, 0, err
	}

	log.Debug("listed tasks",
		slog.Int("count", len(tasks)),
		slog.Int("total", total),
		slog.Int("page", q.Page.Number))
	return tasks, total, nil
}

// Update implements store.TaskStore.Update
func (s *PostgresTaskStore) Update(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET title = $1, description = $2, status = $3, priority = $4,
		    due_date = $5, assigned_to = $6, updated_at = $7
		WHERE id = $8
	`
	result, err := s.db.ExecContext(ctx, query,
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		task.DueDate,
		task.AssignedTo,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: assigned user %s not found", store.ErrInvalidEntity, task.AssignedTo)
		}
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}
	return taskRowsAffected(result, store.ErrTaskNotFound)
}

// Delete implements store.TaskStore.Delete
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}
	return taskRowsAffected(result, store.ErrTaskNotFound)
}

// AddDocuments implements store.TaskStore.AddDocuments
func (s *PostgresTaskStore) AddDocuments(
	ctx context.Context,
	taskID uuid.UUID,
	docs []domain.AttachedDocument,
) error {
	if len(docs) == 0 {
		return nil
	}

	query := `
		INSERT INTO task_documents (` + docColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, d := range docs {
		_, err := s.db.ExecContext(ctx, query,
			d.ID,
			taskID,
			d.FileName,
			d.FilePath,
			d.FileType,
			d.FileSize,
			d.CreatedAt,
		)
		if err != nil {
			if IsForeignKeyViolation(err) {
				return store.ErrTaskNotFound
			}
			return MapError(err)
		}
	}
	return nil
}

// RemoveDocument implements store.TaskStore.RemoveDocument
func (s *PostgresTaskStore) RemoveDocument(ctx context.Context, taskID, docID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM task_documents WHERE task_id = $1 AND id = $2`,
		taskID, docID)
	if err != nil {
		return MapError(err)
	}
	return taskRowsAffected(result, store.ErrDocumentNotFound)
}

// loadDocuments fills the Documents of every task with one query.
func (s *PostgresTaskStore) loadDocuments(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*domain.Task, len(tasks))
	ids := make([]uuid.UUID, 0, len(tasks))
	for _, t := range tasks {
		t.Documents = []domain.AttachedDocument{}
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	query := `
		SELECT ` + docColumns + `
		FROM task_documents
		WHERE task_id = ANY($1)
		ORDER BY created_at, position
	`
	rows, err := s.db.QueryContext(ctx, query, uuidArray(ids))
	if err != nil {
		return MapError(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var d domain.AttachedDocument
		if err := rows.Scan(
			&d.ID,
			&d.TaskID,
			&d.FileName,
			&d.FilePath,
			&d.FileType,
			&d.FileSize,
			&d.CreatedAt,
		); err != nil {
			return err
		}
		if t, ok := byID[d.TaskID]; ok {
			t.Documents = append(t.Documents, d)
		}
	}
	return MapError(rows.Err())
}

// buildListQuery renders the count and page statements for q. Both share the
// returned filter arguments; the page statement additionally expects LIMIT
// and OFFSET as its last two arguments.
func buildListQuery(q store.TaskQuery) (countSQL, pageSQL string, args []any) {
	var conds []string
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	f := q.Filter
	if f.VisibleTo != uuid.Nil {
		p := arg(f.VisibleTo)
		conds = append(conds, fmt.Sprintf("(assigned_to = %s OR created_by = %s)", p, p))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(f.Status))
	}
	if f.Priority != "" {
		conds = append(conds, "priority = "+arg(f.Priority))
	}
	if f.AssignedTo != uuid.Nil {
		conds = append(conds, "assigned_to = "+arg(f.AssignedTo))
	}
	if f.DueFrom != nil {
		conds = append(conds, "due_date >= "+arg(*f.DueFrom))
	}
	if f.DueTo != nil {
		conds = append(conds, "due_date <= "+arg(*f.DueTo))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	dir := "ASC"
	if q.Sort.Desc {
		dir = "DESC"
	}

	countSQL = "SELECT COUNT(*) FROM tasks" + where
	pageSQL = fmt.Sprintf("SELECT %s FROM tasks%s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d",
		taskColumns, where, q.Sort.Field.Column(), dir, dir, len(args)+1, len(args)+2)
	return countSQL, pageSQL, args
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var status, priority string
	if err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&status,
		&priority,
		&t.DueDate,
		&t.AssignedTo,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	t.DueDate = t.DueDate.UTC()
	t.Documents = []domain.AttachedDocument{}
	return &t, nil
}

func taskRowsAffected(result sql.Result, notFound error) error {
	if err := CheckRowsAffected(result, ""); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound
		}
		return err
	}
	return nil
}
