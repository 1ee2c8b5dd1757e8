package domain

import "github.com/google/uuid"

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the caller holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Relationship describes how a principal relates to a task.
// A principal can be creator and assignee at once.
type Relationship uint8

const (
	RelationNone     Relationship = 0
	RelationCreator  Relationship = 1 << 0
	RelationAssignee Relationship = 1 << 1
)

// Has reports whether r includes other.
func (r Relationship) Has(other Relationship) bool {
	return r&other != 0
}

// RelationshipTo computes the relationship between userID and task.
func RelationshipTo(task *Task, userID uuid.UUID) Relationship {
	rel := RelationNone
	if task.CreatedBy == userID {
		rel |= RelationCreator
	}
	if task.AssignedTo == userID {
		rel |= RelationAssignee
	}
	return rel
}

// Action is an operation on a task.
type Action string

const (
	ActionRead           Action = "read"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionRemoveDocument Action = "remove_document"
	ActionDownload       Action = "download"
)

// Decision is the outcome of a policy check.
type Decision bool

const (
	Deny  Decision = false
	Allow Decision = true
)

// Authorize is the single task access policy. Admins may do anything.
// Reads (including downloads) are open to the creator and the assignee;
// every mutation is reserved to the creator.
func Authorize(role Role, rel Relationship, action Action) Decision {
	if role == RoleAdmin {
		return Allow
	}
	switch action {
	case ActionRead, ActionDownload:
		return Decision(rel.Has(RelationCreator | RelationAssignee))
	case ActionUpdate, ActionDelete, ActionRemoveDocument:
		return Decision(rel.Has(RelationCreator))
	default:
		return Deny
	}
}

// CanAccess is a convenience wrapper applying Authorize to a principal and task.
func CanAccess(p Principal, task *Task, action Action) bool {
	return bool(Authorize(p.Role, RelationshipTo(task, p.UserID), action))
}
