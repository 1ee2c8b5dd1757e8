package shared

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupRequest struct {
	Name     string `json:"name"     validate:"required"`
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role"     validate:"omitempty,oneof=user admin"`
	DueDate  string `json:"dueDate"  validate:"required"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid json", body: `{"name":"Ann","email":"ann@example.com"}`},
		{name: "trailing comma", body: `{"name":"Ann",}`, wantErr: true},
		{name: "empty body", body: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst signupRequest
			err := DecodeJSON(req, &dst)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Ann", dst.Name)
		})
	}
}

func TestDecodeJSON_BodyTooLarge(t *testing.T) {
	big := `{"name":"` + strings.Repeat("x", MaxJSONBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	var dst signupRequest
	assert.Error(t, DecodeJSON(req, &dst))
}

func TestValidateRequest(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		err := ValidateRequest(signupRequest{
			Name: "Ann", Email: "ann@example.com", Password: "secret", DueDate: "2030-01-01",
		})
		assert.NoError(t, err)
	})

	t.Run("collects every field failure", func(t *testing.T) {
		err := ValidateRequest(signupRequest{Email: "nope", Password: "abc", Role: "root"})

		var verr *domain.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.True(t, errors.Is(err, domain.ErrValidation))
		assert.ElementsMatch(t, []domain.FieldError{
			{Field: "name", Message: "Name is required"},
			{Field: "email", Message: "Please include a valid email"},
			{Field: "password", Message: "Password must be at least 6 characters"},
			{Field: "role", Message: "Role must be one of: user, admin"},
			{Field: "dueDate", Message: "Due date is required"},
		}, verr.Fields)
	})
}

func TestFieldLabel(t *testing.T) {
	assert.Equal(t, "Assigned to", fieldLabel("assignedTo"))
	assert.Equal(t, "Name", fieldLabel("name"))
	assert.Equal(t, "File size", fieldLabel("file_size"))
}
