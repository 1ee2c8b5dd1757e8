package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/attachment"
	"github.com/phrazzld/taskboard-api/internal/config"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/events"
	"github.com/phrazzld/taskboard-api/internal/platform/postgres"
	"github.com/phrazzld/taskboard-api/internal/platform/redis"
	"github.com/phrazzld/taskboard-api/internal/realtime"
	"github.com/phrazzld/taskboard-api/internal/service"
	"github.com/phrazzld/taskboard-api/internal/service/auth"
	"github.com/phrazzld/taskboard-api/internal/store"
	"github.com/spf13/afero"
)

const dispatcherStopTimeout = 5 * time.Second

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config

	logger *slog.Logger
	db     *sql.DB

	userStore store.UserStore
	taskStore store.TaskStore

	jwtService  auth.JWTService
	passwords   auth.PasswordManager
	attachments *attachment.Manager

	userService service.UserService
	taskService service.TaskService

	// Event system
	channel     events.Channel
	dispatcher  *events.Dispatcher
	broadcaster *events.Broadcaster
	hub         *realtime.Hub
}

// newApplication creates a new application instance with all dependencies initialized.
// The database connection must already be established.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	return newApplicationWithFs(ctx, cfg, logger, db, afero.NewOsFs())
}

func newApplicationWithFs(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
	fs afero.Fs,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	app.passwords = auth.NewBcryptVerifier(cfg.Auth.BCryptCost)

	app.userStore = postgres.NewPostgresUserStore(db, logger)
	app.taskStore = postgres.NewPostgresTaskStore(db, logger)

	app.attachments, err = attachment.NewManager(fs, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize attachment storage: %w", err)
	}

	if err := app.setupEvents(ctx); err != nil {
		return nil, err
	}

	app.userService = service.NewUserService(app.userStore, app.passwords, db, logger)
	app.taskService, err = service.NewTaskService(
		app.taskStore,
		app.userStore,
		app.attachments,
		app.broadcaster,
		db,
		logger,
	)
	if err != nil {
		app.closeEvents()
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}
	app.hub.RestrictJoins(realtime.TaskAccessFunc(app.canReadTask))

	logger.Info("Application initialized successfully")
	return app, nil
}

// canReadTask lets a WebSocket client follow only tasks it could GET.
func (app *application) canReadTask(ctx context.Context, p domain.Principal, taskID uuid.UUID) error {
	_, err := app.taskService.Get(ctx, p, taskID)
	return err
}

// setupEvents builds the broadcast pipeline: services publish through the
// Broadcaster into the Dispatcher queue, whose workers hand events to the
// configured channel, which fans them out to hub subscriptions.
func (app *application) setupEvents(ctx context.Context) error {
	channel, err := newEventChannel(ctx, app.config.Realtime, app.logger)
	if err != nil {
		return err
	}
	app.channel = channel

	app.dispatcher = events.NewDispatcher(channel, events.DispatcherConfig{
		QueueSize:   app.config.Realtime.QueueSize,
		WorkerCount: app.config.Realtime.WorkerCount,
	}, app.logger)
	app.dispatcher.Start()

	app.broadcaster = events.NewBroadcaster(app.dispatcher, app.logger)
	app.hub = realtime.NewHub(channel, app.config.Realtime.AllowedOrigins, app.logger)

	app.logger.Info("Realtime events initialized",
		"backend", app.config.Realtime.Backend,
		"workers", app.config.Realtime.WorkerCount)
	return nil
}

func newEventChannel(ctx context.Context, cfg config.RealtimeConfig, logger *slog.Logger) (events.Channel, error) {
	switch cfg.Backend {
	case "redis":
		ch, err := redis.Dial(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event channel: %w", err)
		}
		return ch, nil
	case "memory", "":
		return events.NewMemoryChannel(logger), nil
	default:
		return nil, fmt.Errorf("unknown realtime backend %q", cfg.Backend)
	}
}

// Run starts the application server and blocks until ctx is cancelled or
// the server fails.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	app.closeEvents()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}

// closeEvents disconnects clients first, then drains queued events before
// the channel closes.
func (app *application) closeEvents() {
	if app.hub != nil {
		app.hub.Close()
	}

	if app.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), dispatcherStopTimeout)
		err := app.dispatcher.Stop(ctx)
		cancel()
		if err != nil {
			app.logger.Error("Error draining event queue", "error", err)
		}
	}

	if app.channel != nil {
		if err := app.channel.Close(); err != nil {
			app.logger.Error("Error closing event channel", "error", err)
		}
	}
}
