package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/taskboard-api/internal/domain"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check for them with errors.Is; the API layer maps them to HTTP
// status codes.
var (
	// ErrForbidden indicates the caller may not perform the action on the
	// resource. API layer should map this to HTTP 403 Forbidden.
	ErrForbidden = errors.New("not authorized to access this resource")

	// ErrInvalidCredentials is returned by Authenticate for an unknown email
	// and for a wrong password alike. API layer should map this to HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ForbiddenError names the task action a caller was refused. It matches
// ErrForbidden.
type ForbiddenError struct {
	Action domain.Action
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%v: %s task", ErrForbidden, e.Action)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// ServiceError records the service and operation during which an
// unexpected error occurred.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

// NewServiceError wraps err with the service and operation names.
func NewServiceError(service, op string, err error) *ServiceError {
	return &ServiceError{Service: service, Op: op, Err: err}
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s service %s operation failed", e.Service, e.Op)
	}
	return fmt.Sprintf("%s service %s operation failed: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
