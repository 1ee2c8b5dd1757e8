package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/phrazzld/taskboard-api/internal/redact"
	"github.com/phrazzld/taskboard-api/internal/service/auth"
	"github.com/phrazzld/taskboard-api/internal/store"
)

// UserChanges is a partial update of a user. Empty fields are left unchanged.
type UserChanges struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// UserService provides registration, authentication and user administration.
type UserService interface {
	// Register creates a regular user. Returns store.ErrEmailExists when the
	// email is taken.
	Register(ctx context.Context, name, email, password string) (*domain.User, error)

	// Authenticate checks credentials and returns ErrInvalidCredentials for
	// an unknown email and a wrong password alike.
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)

	// GetUser retrieves a user by their ID
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	// ListUsers returns every user, newest first.
	ListUsers(ctx context.Context) ([]*domain.User, error)

	// CreateUser creates a user with an explicit role.
	CreateUser(ctx context.Context, name, email, password string, role domain.Role) (*domain.User, error)

	// UpdateUser applies a partial update to a user.
	// Following the pattern of getting the full user first, then updating
	// only the given fields, and passing the complete user back to the store.
	UpdateUser(ctx context.Context, userID uuid.UUID, changes UserChanges) (*domain.User, error)

	// DeleteUser deletes a user by their ID. Returns store.ErrUserInUse while
	// tasks still reference the user.
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

// UserServiceImpl implements the UserService interface
type UserServiceImpl struct {
	userStore store.UserStore
	hasher    auth.PasswordHasher
	verifier  auth.PasswordVerifier
	db        *sql.DB
	logger    *slog.Logger
}

// NewUserService creates a new UserService
func NewUserService(
	userStore store.UserStore,
	passwords auth.PasswordManager,
	db *sql.DB,
	log *slog.Logger,
) *UserServiceImpl {
	return &UserServiceImpl{
		userStore: userStore,
		hasher:    passwords,
		verifier:  passwords,
		db:        db,
		logger:    log.With(slog.String("component", "user_service")),
	}
}

// Register implements UserService.
func (s *UserServiceImpl) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	return s.CreateUser(ctx, name, email, password, domain.RoleUser)
}

// Authenticate implements UserService.
func (s *UserServiceImpl) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	user, err := s.userStore.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Debug("login attempt for unknown email")
			return nil, ErrInvalidCredentials
		}
		log.Error("failed to retrieve user for login",
			slog.String("error", redact.Error(err)))
		return nil, NewServiceError("user", "authenticate", err)
	}

	if err := s.verifier.Compare(user.HashedPassword, password); err != nil {
		log.Debug("login attempt with wrong password", slog.String("user_id", user.ID.String()))
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// GetUser implements UserService.
func (s *UserServiceImpl) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userStore.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			logger.FromContextOrDefault(ctx, s.logger).Error("failed to retrieve user",
				slog.String("error", redact.Error(err)),
				slog.String("user_id", userID.String()))
		}
		return nil, fmt.Errorf("failed to retrieve user: %w", err)
	}
	return user, nil
}

// ListUsers implements UserService.
func (s *UserServiceImpl) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := s.userStore.List(ctx)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list users",
			slog.String("error", redact.Error(err)))
		return nil, NewServiceError("user", "list", err)
	}
	return users, nil
}

// CreateUser implements UserService.
// Uses a transaction to ensure atomicity of the operation
func (s *UserServiceImpl) CreateUser(
	ctx context.Context,
	name, email, password string,
	role domain.Role,
) (*domain.User, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	user, err := domain.NewUser(name, email, password, role)
	if err != nil {
		return nil, err
	}

	if user.HashedPassword, err = s.hasher.Hash(password); err != nil {
		log.Error("failed to hash password", slog.String("error", err.Error()))
		return nil, NewServiceError("user", "create", err)
	}
	user.Password = ""

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return s.userStore.WithTx(tx).Create(ctx, user)
	})
	if err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			log.Debug("attempted to create user with existing email")
			return nil, err
		}
		log.Error("failed to save user to database",
			slog.String("error", redact.Error(err)))
		return nil, NewServiceError("user", "create", err)
	}

	log.Info("user created",
		slog.String("user_id", user.ID.String()),
		slog.String("role", string(user.Role)))
	return user, nil
}

// UpdateUser implements UserService.
func (s *UserServiceImpl) UpdateUser(ctx context.Context, userID uuid.UUID, changes UserChanges) (*domain.User, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var updated *domain.User
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		txStore := s.userStore.WithTx(tx)

		user, err := txStore.GetByID(ctx, userID)
		if err != nil {
			return err
		}

		if name := strings.TrimSpace(changes.Name); name != "" {
			user.Name = name
		}
		if changes.Email != "" {
			user.Email = domain.NormalizeEmail(changes.Email)
		}
		if changes.Role != "" {
			user.Role = domain.Role(changes.Role)
		}
		if changes.Password != "" {
			user.Password = changes.Password
		}
		if err := user.Validate(); err != nil {
			return err
		}

		if user.Password != "" {
			hash, err := s.hasher.Hash(user.Password)
			if err != nil {
				return NewServiceError("user", "update", err)
			}
			user.HashedPassword = hash
			user.Password = ""
		}
		user.UpdatedAt = time.Now().UTC()

		if err := txStore.Update(ctx, user); err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUserNotFound),
			errors.Is(err, store.ErrEmailExists),
			errors.Is(err, domain.ErrValidation):
			log.Debug("user update rejected",
				slog.String("user_id", userID.String()),
				slog.String("reason", err.Error()))
			return nil, err
		}
		log.Error("failed to update user",
			slog.String("error", redact.Error(err)),
			slog.String("user_id", userID.String()))
		return nil, NewServiceError("user", "update", err)
	}

	log.Info("user updated", slog.String("user_id", userID.String()))
	return updated, nil
}

// DeleteUser implements UserService.
// Uses a transaction to ensure atomicity of the operation
func (s *UserServiceImpl) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return s.userStore.WithTx(tx).Delete(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) || errors.Is(err, store.ErrUserInUse) {
			log.Debug("user delete rejected",
				slog.String("user_id", userID.String()),
				slog.String("reason", err.Error()))
			return err
		}
		log.Error("failed to delete user",
			slog.String("error", redact.Error(err)),
			slog.String("user_id", userID.String()))
		return NewServiceError("user", "delete", err)
	}

	log.Info("user deleted", slog.String("user_id", userID.String()))
	return nil
}
