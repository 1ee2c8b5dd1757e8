package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxDocumentsPerUpload bounds the number of files accepted by a single
// create or update call. The total per task is unbounded.
const MaxDocumentsPerUpload = 3

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is a unit of work assigned to a user.
//
// CreatedBy is set once by NewTask and is never changed afterwards.
type Task struct {
	ID          uuid.UUID          `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Status      Status             `json:"status"`
	Priority    Priority           `json:"priority"`
	DueDate     time.Time          `json:"due_date"`
	AssignedTo  uuid.UUID          `json:"assigned_to"`
	CreatedBy   uuid.UUID          `json:"created_by"`
	Documents   []AttachedDocument `json:"documents"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// AttachedDocument is a file owned by a task.
type AttachedDocument struct {
	ID        uuid.UUID `json:"id"`
	TaskID    uuid.UUID `json:"task_id"`
	FileName  string    `json:"file_name"`
	FilePath  string    `json:"file_path"`
	FileType  string    `json:"file_type"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTask builds a task created by createdBy. Empty status and priority take
// their defaults (todo and medium).
func NewTask(
	title, description string,
	dueDate time.Time,
	assignedTo, createdBy uuid.UUID,
	status Status,
	priority Priority,
) (*Task, error) {
	if status == "" {
		status = StatusTodo
	}
	if priority == "" {
		priority = PriorityMedium
	}

	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Status:      status,
		Priority:    priority,
		DueDate:     dueDate.UTC(),
		AssignedTo:  assignedTo,
		CreatedBy:   createdBy,
		Documents:   []AttachedDocument{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// Validate checks the task fields.
func (t *Task) Validate() error {
	v := &ValidationError{}

	if t.ID == uuid.Nil {
		v.Add("id", ErrInvalidID.Error())
	}
	if t.Title == "" {
		v.Add("title", "Title is required")
	}
	if t.Description == "" {
		v.Add("description", "Description is required")
	}
	if t.DueDate.IsZero() {
		v.Add("dueDate", "Due date is required")
	}
	if t.AssignedTo == uuid.Nil {
		v.Add("assignedTo", "Assigned to is required")
	}
	if t.CreatedBy == uuid.Nil {
		v.Add("createdBy", ErrInvalidID.Error())
	}
	if !t.Status.Valid() {
		v.Add("status", "Status must be valid")
	}
	if !t.Priority.Valid() {
		v.Add("priority", "Priority must be valid")
	}

	return v.OrNil()
}

// TaskChanges holds the fields of a partial update. Nil fields are left
// unchanged.
type TaskChanges struct {
	Title       *string
	Description *string
	Status      *Status
	Priority    *Priority
	DueDate     *time.Time
	AssignedTo  *uuid.UUID
}

// IsEmpty reports whether no field is set.
func (c TaskChanges) IsEmpty() bool {
	return c.Title == nil && c.Description == nil && c.Status == nil &&
		c.Priority == nil && c.DueDate == nil && c.AssignedTo == nil
}

// Apply copies the set fields onto t, bumps UpdatedAt and revalidates.
// CreatedBy is not part of TaskChanges and cannot be altered.
func (t *Task) Apply(c TaskChanges) error {
	if c.Title != nil {
		t.Title = strings.TrimSpace(*c.Title)
	}
	if c.Description != nil {
		t.Description = strings.TrimSpace(*c.Description)
	}
	if c.Status != nil {
		t.Status = *c.Status
	}
	if c.Priority != nil {
		t.Priority = *c.Priority
	}
	if c.DueDate != nil {
		t.DueDate = c.DueDate.UTC()
	}
	if c.AssignedTo != nil {
		t.AssignedTo = *c.AssignedTo
	}
	t.UpdatedAt = time.Now().UTC()
	return t.Validate()
}

// Document returns the attached document with the given ID.
func (t *Task) Document(id uuid.UUID) (AttachedDocument, bool) {
	for _, d := range t.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return AttachedDocument{}, false
}

// Attach appends documents to the task, binding them to its ID.
func (t *Task) Attach(docs ...AttachedDocument) {
	for i := range docs {
		docs[i].TaskID = t.ID
	}
	t.Documents = append(t.Documents, docs...)
}

// Detach removes the document with the given ID and reports whether it was present.
func (t *Task) Detach(id uuid.UUID) bool {
	for i, d := range t.Documents {
		if d.ID == id {
			t.Documents = append(t.Documents[:i:i], t.Documents[i+1:]...)
			return true
		}
	}
	return false
}

var fileSizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// HumanFileSize renders a byte count using 1024-based units, rounded to a
// whole number ("0 Byte", "512 Bytes", "2 MB").
func HumanFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Byte"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(fileSizeUnits) {
		i = len(fileSizeUnits) - 1
	}
	value := math.Round(float64(bytes) / math.Pow(1024, float64(i)))
	return fmt.Sprintf("%d %s", int64(value), fileSizeUnits[i])
}
