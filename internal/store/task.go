package store

import (
	"context"
	"database/sql"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/domain"
)

// TaskStore defines the interface for task and attached document persistence.
type TaskStore interface {
	// Create inserts the task row. Documents are added with AddDocuments.
	// Returns ErrInvalidEntity if a referenced user does not exist.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task with its documents in insertion order.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetByIDForUpdate is GetByID with the task row locked until the
	// surrounding transaction ends. Only meaningful on a WithTx store.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List returns the page of tasks matching q and the total match count.
	// Returned tasks carry their documents.
	List(ctx context.Context, q TaskQuery) ([]*domain.Task, int, error)

	// Update persists the mutable fields of an existing task.
	// created_by is never written.
	// Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, task *domain.Task) error

	// Delete removes the task and, by cascade, its documents.
	// Returns ErrTaskNotFound if the task does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// AddDocuments appends documents to a task.
	AddDocuments(ctx context.Context, taskID uuid.UUID, docs []domain.AttachedDocument) error

	// RemoveDocument deletes one document of a task.
	// Returns ErrDocumentNotFound if the task has no such document.
	RemoveDocument(ctx context.Context, taskID, docID uuid.UUID) error

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) TaskStore
}

// Paging defaults.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// SortField is a sortable task attribute, named as clients send it.
type SortField string

const (
	SortByCreatedAt SortField = "createdAt"
	SortByUpdatedAt SortField = "updatedAt"
	SortByDueDate   SortField = "dueDate"
	SortByTitle     SortField = "title"
	SortByStatus    SortField = "status"
	SortByPriority  SortField = "priority"
)

var sortColumns = map[SortField]string{
	SortByCreatedAt: "created_at",
	SortByUpdatedAt: "updated_at",
	SortByDueDate:   "due_date",
	SortByTitle:     "title",
	SortByStatus:    "status",
	SortByPriority:  "priority",
}

// Column returns the database column backing the field.
func (f SortField) Column() string {
	if col, ok := sortColumns[f]; ok {
		return col
	}
	return sortColumns[SortByCreatedAt]
}

// Sort orders a task listing.
type Sort struct {
	Field SortField
	Desc  bool
}

// DefaultSort is newest first.
var DefaultSort = Sort{Field: SortByCreatedAt, Desc: true}

// ParseSort reads a "field:direction" token. Only "desc" sorts descending.
// An empty token yields DefaultSort and an unknown field falls back to
// createdAt with the requested direction.
func ParseSort(raw string) Sort {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultSort
	}

	field, dir, _ := strings.Cut(raw, ":")
	s := Sort{Field: SortField(field), Desc: dir == "desc"}
	if _, ok := sortColumns[s.Field]; !ok {
		s.Field = SortByCreatedAt
	}
	return s
}

// Less reports whether a sorts before b. Ties are broken by ID so the order
// is total.
func (s Sort) Less(a, b *domain.Task) bool {
	c := compareBy(s.Field, a, b)
	if c == 0 {
		c = strings.Compare(a.ID.String(), b.ID.String())
	}
	if s.Desc {
		return c > 0
	}
	return c < 0
}

func compareBy(field SortField, a, b *domain.Task) int {
	switch field {
	case SortByUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case SortByDueDate:
		return a.DueDate.Compare(b.DueDate)
	case SortByTitle:
		return strings.Compare(a.Title, b.Title)
	case SortByStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	case SortByPriority:
		return strings.Compare(string(a.Priority), string(b.Priority))
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// Page selects a window of results.
type Page struct {
	Number int
	Limit  int
}

// ParsePage reads page and limit query values. Missing, non-numeric or
// non-positive values fall back to the defaults, and limit is capped.
func ParsePage(pageRaw, limitRaw string) Page {
	p := Page{Number: DefaultPage, Limit: DefaultLimit}
	if n, err := strconv.Atoi(strings.TrimSpace(pageRaw)); err == nil && n > 0 {
		p.Number = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(limitRaw)); err == nil && n > 0 {
		p.Limit = min(n, MaxLimit)
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// TaskFilter restricts a task listing. Zero-valued fields do not filter.
type TaskFilter struct {
	// VisibleTo limits results to tasks the user created or is assigned.
	VisibleTo  uuid.UUID
	Status     domain.Status
	Priority   domain.Priority
	AssignedTo uuid.UUID
	// DueFrom and DueTo are inclusive bounds on the due date.
	DueFrom *time.Time
	DueTo   *time.Time
}

// Matches reports whether task passes the filter.
func (f TaskFilter) Matches(task *domain.Task) bool {
	if f.VisibleTo != uuid.Nil && task.AssignedTo != f.VisibleTo && task.CreatedBy != f.VisibleTo {
		return false
	}
	if f.Status != "" && task.Status != f.Status {
		return false
	}
	if f.Priority != "" && task.Priority != f.Priority {
		return false
	}
	if f.AssignedTo != uuid.Nil && task.AssignedTo != f.AssignedTo {
		return false
	}
	if f.DueFrom != nil && task.DueDate.Before(*f.DueFrom) {
		return false
	}
	if f.DueTo != nil && task.DueDate.After(*f.DueTo) {
		return false
	}
	return true
}

// TaskQuery is a complete listing request.
type TaskQuery struct {
	Filter TaskFilter
	Sort   Sort
	Page   Page
}

// TaskListParams are the raw listing parameters as received from a client.
type TaskListParams struct {
	Page       string
	Limit      string
	Status     string
	Priority   string
	AssignedTo string
	FromDate   string
	ToDate     string
	SortBy     string
}

// NewTaskQuery builds the listing query for the requesting principal.
// Non-admins only ever see tasks they created or are assigned. Malformed
// filter values are reported as a *domain.ValidationError.
func NewTaskQuery(p domain.Principal, params TaskListParams) (TaskQuery, error) {
	q := TaskQuery{
		Sort: ParseSort(params.SortBy),
		Page: ParsePage(params.Page, params.Limit),
	}
	if !p.IsAdmin() {
		q.Filter.VisibleTo = p.UserID
	}

	v := &domain.ValidationError{}

	if params.Status != "" {
		q.Filter.Status = domain.Status(params.Status)
		if !q.Filter.Status.Valid() {
			v.Add("status", "Status must be valid")
		}
	}
	if params.Priority != "" {
		q.Filter.Priority = domain.Priority(params.Priority)
		if !q.Filter.Priority.Valid() {
			v.Add("priority", "Priority must be valid")
		}
	}
	if params.AssignedTo != "" {
		id, err := uuid.Parse(params.AssignedTo)
		if err != nil {
			v.Add("assignedTo", "Assigned to must be valid")
		}
		q.Filter.AssignedTo = id
	}
	if params.FromDate != "" {
		from, err := ParseDate(params.FromDate)
		if err != nil {
			v.Add("fromDate", "From date must be a valid date")
		}
		q.Filter.DueFrom = &from
	}
	if params.ToDate != "" {
		to, err := ParseDate(params.ToDate)
		if err != nil {
			v.Add("toDate", "To date must be a valid date")
		}
		q.Filter.DueTo = &to
	}

	if err := v.OrNil(); err != nil {
		return TaskQuery{}, err
	}
	return q, nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate parses an ISO-8601 date or timestamp. Values without a zone are
// taken as UTC.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// PageInfo describes where a page sits in the full result set.
type PageInfo struct {
	Total int `json:"total"`
	Pages int `json:"pages"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// NewPageInfo computes the page count for total matches.
func NewPageInfo(total int, p Page) PageInfo {
	pages := 0
	if p.Limit > 0 {
		pages = int(math.Ceil(float64(total) / float64(p.Limit)))
	}
	return PageInfo{Total: total, Pages: pages, Page: p.Number, Limit: p.Limit}
}
