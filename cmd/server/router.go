package main

import (
	"net/http"

	"github.com/phrazzld/taskboard-api/internal/api"
	apiMiddleware "github.com/phrazzld/taskboard-api/internal/api/middleware"
)

// setupRouter creates the HTTP handler tree from the application's services.
func (app *application) setupRouter() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Auth:  api.NewAuthHandler(app.userService, app.jwtService, app.logger),
		Tasks: api.NewTaskHandler(app.taskService, app.config.Storage.MaxFileSize, app.logger),
		Users: api.NewUserHandler(app.userService),

		AuthMW: apiMiddleware.NewAuthMiddleware(app.jwtService, app.userService),
		AuthLimiter: apiMiddleware.NewRateLimiter(
			app.config.Server.AuthRateLimit,
			app.config.Server.AuthRateBurst,
		),

		Uploads:       app.attachments.Handler(),
		UploadsPrefix: app.config.Storage.PublicPrefix,
		WebSocket:     app.hub,

		Health:         app.health,
		RequestLogging: app.config.Server.LogLevel == "debug",
		Logger:         app.logger,
	})
}

// health reports 200 while the database answers and 503 otherwise.
func (app *application) health(w http.ResponseWriter, r *http.Request) {
	if app.db != nil {
		if err := app.db.PingContext(r.Context()); err != nil {
			app.logger.Warn("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		app.logger.Error("Failed to write health check response", "error", err)
	}
}
