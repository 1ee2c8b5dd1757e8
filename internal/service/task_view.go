package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/store"
)

// TaskView is a task as returned to clients and broadcast to subscribers,
// with user references resolved to public projections.
type TaskView struct {
	ID          uuid.UUID          `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Status      domain.Status      `json:"status"`
	Priority    domain.Priority    `json:"priority"`
	DueDate     time.Time          `json:"due_date"`
	AssignedTo  domain.UserSummary `json:"assigned_to"`
	CreatedBy   domain.UserSummary `json:"created_by"`
	Documents   []DocumentView     `json:"documents"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// DocumentView is the client projection of an attached document. The
// storage key is exposed only as a public URL.
type DocumentView struct {
	ID            uuid.UUID `json:"id"`
	FileName      string    `json:"file_name"`
	FileType      string    `json:"file_type"`
	FileSize      int64     `json:"file_size"`
	FileSizeHuman string    `json:"file_size_human"`
	URL           string    `json:"url"`
	CreatedAt     time.Time `json:"created_at"`
}

// TaskPage is one page of a task listing.
type TaskPage struct {
	Items      []*TaskView    `json:"items"`
	Pagination store.PageInfo `json:"pagination"`
}

func newTaskView(
	t *domain.Task,
	users map[uuid.UUID]domain.UserSummary,
	urlFor func(domain.AttachedDocument) string,
) *TaskView {
	v := &TaskView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
		AssignedTo:  summaryOf(users, t.AssignedTo),
		CreatedBy:   summaryOf(users, t.CreatedBy),
		Documents:   make([]DocumentView, 0, len(t.Documents)),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	for _, d := range t.Documents {
		v.Documents = append(v.Documents, DocumentView{
			ID:            d.ID,
			FileName:      d.FileName,
			FileType:      d.FileType,
			FileSize:      d.FileSize,
			FileSizeHuman: domain.HumanFileSize(d.FileSize),
			URL:           urlFor(d),
			CreatedAt:     d.CreatedAt,
		})
	}
	return v
}

// summaryOf falls back to a bare ID when the user could not be resolved.
func summaryOf(users map[uuid.UUID]domain.UserSummary, id uuid.UUID) domain.UserSummary {
	if s, ok := users[id]; ok {
		return s
	}
	return domain.UserSummary{ID: id}
}

// referencedUsers returns the distinct user IDs referenced by tasks.
func referencedUsers(tasks ...*domain.Task) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, 2*len(tasks))
	ids := make([]uuid.UUID, 0, 2*len(tasks))
	for _, t := range tasks {
		for _, id := range []uuid.UUID{t.AssignedTo, t.CreatedBy} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}
