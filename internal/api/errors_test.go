package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/taskboard-api/internal/api/shared"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/service"
	"github.com/phrazzld/taskboard-api/internal/service/auth"
	"github.com/phrazzld/taskboard-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{name: "validation", err: domain.NewValidationError("title", "Title is required"),
			status: http.StatusBadRequest, message: "Validation failed"},
		{name: "invalid entity", err: store.ErrInvalidEntity,
			status: http.StatusBadRequest, message: "Invalid entity data"},
		{name: "credentials", err: service.ErrInvalidCredentials,
			status: http.StatusUnauthorized, message: "Invalid credentials"},
		{name: "wrapped token error", err: fmt.Errorf("verify: %w", auth.ErrExpiredToken),
			status: http.StatusUnauthorized, message: "Not authorized, token failed"},
		{name: "forbidden", err: fmt.Errorf("update: %w", service.ErrForbidden),
			status: http.StatusForbidden, message: "Not authorized to access this task"},
		{name: "forbidden read", err: &service.ForbiddenError{Action: domain.ActionRead},
			status: http.StatusForbidden, message: "Not authorized to access this task"},
		{name: "forbidden download", err: &service.ForbiddenError{Action: domain.ActionDownload},
			status: http.StatusForbidden, message: "Not authorized to access this task"},
		{name: "forbidden update", err: &service.ForbiddenError{Action: domain.ActionUpdate},
			status: http.StatusForbidden, message: "Not authorized to update this task"},
		{name: "forbidden document removal", err: fmt.Errorf("remove: %w", &service.ForbiddenError{Action: domain.ActionRemoveDocument}),
			status: http.StatusForbidden, message: "Not authorized to update this task"},
		{name: "forbidden delete", err: &service.ForbiddenError{Action: domain.ActionDelete},
			status: http.StatusForbidden, message: "Not authorized to delete this task"},
		{name: "task not found", err: service.NewServiceError("task", "get", store.ErrTaskNotFound),
			status: http.StatusNotFound, message: "Task not found"},
		{name: "document not found", err: store.ErrDocumentNotFound,
			status: http.StatusNotFound, message: "Document not found"},
		{name: "user not found", err: store.ErrUserNotFound,
			status: http.StatusNotFound, message: "User not found"},
		{name: "malformed id", err: fmt.Errorf("%w: %w", store.ErrTaskNotFound, domain.ErrInvalidID),
			status: http.StatusNotFound, message: "Task not found"},
		{name: "email exists", err: store.ErrEmailExists,
			status: http.StatusConflict, message: "User already exists"},
		{name: "user in use", err: store.ErrUserInUse,
			status: http.StatusConflict, message: "User still has tasks"},
		{name: "unknown", err: errors.New("connection reset by peer"),
			status: http.StatusInternalServerError, message: "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, MapErrorToStatusCode(tt.err))
			assert.Equal(t, tt.message, GetSafeErrorMessage(tt.err))
		})
	}

	assert.Equal(t, http.StatusOK, MapErrorToStatusCode(nil))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}

func TestHandleAPIError(t *testing.T) {
	t.Run("validation error lists fields", func(t *testing.T) {
		verr := domain.NewValidationError("dueDate", "Due date is required")
		rec := httptest.NewRecorder()
		HandleAPIError(rec, httptest.NewRequest(http.MethodPost, "/api/tasks", nil),
			fmt.Errorf("create: %w", verr))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeBody[shared.ErrorResponse](t, rec)
		assert.Equal(t, []domain.FieldError{{Field: "dueDate", Message: "Due date is required"}}, resp.Errors)
	})

	t.Run("internal error hides details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		req = req.WithContext(shared.SetTraceID(req.Context()))
		HandleAPIError(rec, req, errors.New(`pq: relation "tasks" does not exist`))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decodeBody[shared.ErrorResponse](t, rec)
		assert.Equal(t, "An unexpected error occurred", resp.Error)
		assert.NotEmpty(t, resp.TraceID)
		assert.NotContains(t, rec.Body.String(), "relation")
	})
}
