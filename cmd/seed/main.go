// Command seed fills an empty database with sample accounts and tasks for
// local development: one admin, two regular users and a batch of tasks
// created by the admin with random status, priority, assignee and a due
// date within the next two weeks.
//
//	seed -tasks 15
//	seed -wipe        # delete every task and user first
//
// Sample accounts use fixed development passwords. Never run it against a
// shared deployment.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
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

// ErrNotEmpty is returned when users exist and -wipe was not given.
var ErrNotEmpty = errors.New("database already has users; rerun with -wipe to replace them")

type sampleUser struct {
	name, email, password string
	role                  domain.Role
}

// sampleUsers are created in order; the first one creates every task.
var sampleUsers = []sampleUser{
	{"Admin User", "admin@example.com", "admin123", domain.RoleAdmin},
	{"John Doe", "john@example.com", "password123", domain.RoleUser},
	{"Jane Smith", "jane@example.com", "password123", domain.RoleUser},
}

var (
	statuses   = []domain.Status{domain.StatusTodo, domain.StatusInProgress, domain.StatusDone}
	priorities = []domain.Priority{domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh}
)

func main() {
	taskCount := flag.Int("tasks", 15, "number of sample tasks to create")
	wipe := flag.Bool("wipe", false, "delete all tasks and users before seeding")
	flag.Parse()

	if *taskCount < 0 {
		flag.Usage()
		log.Fatal("seed: -tasks must not be negative")
	}

	if err := run(*taskCount, *wipe); err != nil {
		log.Fatalf("seed: %v", err)
	}
}

func run(taskCount int, wipe bool) error {
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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	users := service.NewUserService(
		postgres.NewPostgresUserStore(db, l),
		auth.NewBcryptVerifier(cfg.Auth.BCryptCost),
		db, l,
	)
	s := &seeder{
		users:  users,
		tasks:  postgres.NewPostgresTaskStore(db, l),
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		now:    time.Now,
		logger: l.With(slog.String("component", "seed")),
	}

	if wipe {
		if err := wipeData(ctx, db); err != nil {
			return err
		}
		s.logger.Info("cleared existing data")
	}

	res, err := s.seed(ctx, taskCount)
	if err != nil {
		return err
	}
	fmt.Printf("created %d users and %d tasks\n", len(res.users), len(res.tasks))
	return nil
}

// wipeData deletes every user and task in one transaction. Documents go
// with their tasks by cascade; their files stay in the uploads directory.
func wipeData(ctx context.Context, db *sql.DB) error {
	err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM users`)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear existing data: %w", err)
	}
	return nil
}

type seeder struct {
	users  service.UserService
	tasks  store.TaskStore
	rng    *rand.Rand
	now    func() time.Time
	logger *slog.Logger
}

type seedResult struct {
	users []*domain.User
	tasks []*domain.Task
}

// seed creates the sample users and taskCount tasks. It refuses to run
// while any user exists.
func (s *seeder) seed(ctx context.Context, taskCount int) (*seedResult, error) {
	existing, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing users: %w", err)
	}
	if len(existing) > 0 {
		return nil, ErrNotEmpty
	}

	res := &seedResult{}
	for _, u := range sampleUsers {
		created, err := s.users.CreateUser(ctx, u.name, u.email, u.password, u.role)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", u.email, err)
		}
		res.users = append(res.users, created)
	}
	s.logger.Info("created users", slog.Int("count", len(res.users)))

	creator := res.users[0].ID
	today := s.now().UTC()
	for i := 1; i <= taskCount; i++ {
		task, err := domain.NewTask(
			fmt.Sprintf("Task %d", i),
			fmt.Sprintf("Sample task %d created by the seed command.", i),
			today.AddDate(0, 0, s.rng.IntN(15)),
			res.users[s.rng.IntN(len(res.users))].ID,
			creator,
			statuses[s.rng.IntN(len(statuses))],
			priorities[s.rng.IntN(len(priorities))],
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build task %d: %w", i, err)
		}
		if err := s.tasks.Create(ctx, task); err != nil {
			return nil, fmt.Errorf("failed to create task %d: %w", i, err)
		}
		res.tasks = append(res.tasks, task)
	}
	s.logger.Info("created tasks", slog.Int("count", len(res.tasks)))
	return res, nil
}
