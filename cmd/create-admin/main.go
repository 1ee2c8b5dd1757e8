// Command create-admin provisions an administrator account. Running it again
// for the same email is safe: an existing admin is left as is and an
// existing regular user is promoted.
//
//	TASKBOARD_ADMIN_PASSWORD=... create-admin -email admin@example.com -name Admin
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/taskboard-api/internal/config"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/phrazzld/taskboard-api/internal/platform/postgres"
	"github.com/phrazzld/taskboard-api/internal/service"
	"github.com/phrazzld/taskboard-api/internal/service/auth"
	"github.com/phrazzld/taskboard-api/internal/store"
)

// PasswordEnv supplies the password when -password is not given, keeping
// it out of shell history.
const PasswordEnv = "TASKBOARD_ADMIN_PASSWORD"

func main() {
	name := flag.String("name", "Admin", "display name of the admin user")
	email := flag.String("email", "", "email address of the admin user (required)")
	password := flag.String("password", "", "password of the admin user; defaults to $"+PasswordEnv)
	flag.Parse()

	if *password == "" {
		*password = os.Getenv(PasswordEnv)
	}
	if *email == "" || *password == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*name, *email, *password); err != nil {
		log.Fatalf("create-admin: %v", err)
	}
}

func run(name, email, password string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	users := postgres.NewPostgresUserStore(db, l)
	svc := service.NewUserService(users, auth.NewBcryptVerifier(cfg.Auth.BCryptCost), db, l)

	user, outcome, err := ensureAdmin(ctx, users, svc, name, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("%s admin %s (%s)\n", outcome, user.Email, user.ID)
	return nil
}

type userLookup interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Outcomes reported by ensureAdmin.
const (
	outcomeCreated  = "created"
	outcomePromoted = "promoted"
	outcomeExisting = "existing"
)

// ensureAdmin makes sure an admin account exists for email. The password of
// an existing account is never changed.
func ensureAdmin(
	ctx context.Context,
	lookup userLookup,
	users service.UserService,
	name, email, password string,
) (*domain.User, string, error) {
	existing, err := lookup.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		created, err := users.CreateUser(ctx, name, email, password, domain.RoleAdmin)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create admin: %w", err)
		}
		return created, outcomeCreated, nil
	case err != nil:
		return nil, "", fmt.Errorf("failed to look up %s: %w", email, err)
	case existing.IsAdmin():
		return existing, outcomeExisting, nil
	}

	promoted, err := users.UpdateUser(ctx, existing.ID, service.UserChanges{Role: string(domain.RoleAdmin)})
	if err != nil {
		return nil, "", fmt.Errorf("failed to promote %s: %w", email, err)
	}
	return promoted, outcomePromoted, nil
}
