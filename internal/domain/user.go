package domain

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Password length bounds. The upper bound is bcrypt's input limit.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 72
)

// Role is the authorization role carried by a user and its credentials.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

var validate = validator.New()

// User represents a registered account.
type User struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Password       string    `json:"-"` // Plaintext password, used temporarily during registration/updates
	HashedPassword string    `json:"-"` // Never expose password hash in JSON
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserSummary is the projection of a user embedded in task responses.
type UserSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// NewUser creates a new User with a fresh ID and timestamps.
// An empty role defaults to RoleUser.
//
// NOTE: This function only sets up the user structure with the plaintext password.
// The caller is responsible for hashing the password before storing the user.
func NewUser(name, email, password string, role Role) (*User, error) {
	if role == "" {
		role = RoleUser
	}
	now := time.Now().UTC()
	user := &User{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(name),
		Email:     NormalizeEmail(email),
		Password:  password,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := user.Validate(); err != nil {
		return nil, err
	}

	return user, nil
}

// Validate checks every field and reports all failures at once.
func (u *User) Validate() error {
	v := &ValidationError{}

	if u.ID == uuid.Nil {
		v.Add("id", ErrInvalidID.Error())
	}
	if strings.TrimSpace(u.Name) == "" {
		v.Add("name", "Name is required")
	}
	if u.Email == "" || validate.Var(u.Email, "email") != nil {
		v.Add("email", "Please include a valid email")
	}
	if !u.Role.Valid() {
		v.Add("role", "Role must be user or admin")
	}

	if u.Password != "" {
		if msg := passwordProblem(u.Password); msg != "" {
			v.Add("password", msg)
		}
	} else if u.HashedPassword == "" {
		// Existing users loaded from storage carry only the hash.
		v.Add("password", "Password is required")
	}

	return v.OrNil()
}

// Summary returns the public projection of u.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NormalizeEmail trims and lowercases an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidatePassword checks a plaintext password against the length bounds.
func ValidatePassword(password string) error {
	if msg := passwordProblem(password); msg != "" {
		return NewValidationError("password", msg)
	}
	return nil
}

func passwordProblem(password string) string {
	switch {
	case len(password) < MinPasswordLength:
		return "Password must be at least 6 characters"
	case len(password) > MaxPasswordLength:
		return "Password must be at most 72 characters"
	default:
		return ""
	}
}
