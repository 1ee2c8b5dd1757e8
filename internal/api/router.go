package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskboard-api/internal/api/middleware"
	"github.com/phrazzld/taskboard-api/internal/domain"
)

// RouterConfig collects the handlers mounted by NewRouter. Uploads and
// WebSocket are optional.
type RouterConfig struct {
	Auth        *AuthHandler
	Tasks       *TaskHandler
	Users       *UserHandler
	AuthMW      *middleware.AuthMiddleware
	AuthLimiter *middleware.RateLimiter

	// Uploads serves stored documents under UploadsPrefix.
	Uploads       http.Handler
	UploadsPrefix string

	// WebSocket is the real-time endpoint mounted at /ws behind
	// query-token authentication.
	WebSocket http.Handler

	// Health reports liveness at /health. Defaults to a plain 200 "OK".
	Health http.HandlerFunc

	// RequestLogging enables chi's request logger.
	RequestLogging bool
	Logger         *slog.Logger
}

// NewRouter builds the HTTP routing tree.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if cfg.RequestLogging {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.NewTraceMiddleware(cfg.Logger))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.AuthLimiter != nil {
				r.Use(cfg.AuthLimiter.Middleware)
			}
			r.Post("/auth/register", cfg.Auth.Register)
			r.Post("/auth/login", cfg.Auth.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthMW.Authenticate)

			r.Get("/auth/profile", cfg.Auth.Profile)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", cfg.Tasks.List)
				r.Post("/", cfg.Tasks.Create)
				r.Get("/{id}", cfg.Tasks.Get)
				r.Put("/{id}", cfg.Tasks.Update)
				r.Delete("/{id}", cfg.Tasks.Delete)
				r.Delete("/{id}/documents/{docId}", cfg.Tasks.RemoveDocument)
				r.Get("/{id}/documents/{docId}/download", cfg.Tasks.DownloadDocument)
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.RoleAdmin))
				r.Get("/", cfg.Users.List)
				r.Post("/", cfg.Users.Create)
				r.Get("/{id}", cfg.Users.Get)
				r.Put("/{id}", cfg.Users.Update)
				r.Delete("/{id}", cfg.Users.Delete)
			})
		})
	})

	if cfg.Uploads != nil && cfg.UploadsPrefix != "" {
		prefix := strings.TrimSuffix(cfg.UploadsPrefix, "/")
		r.Handle(prefix+"/*", cfg.Uploads)
	}

	if cfg.WebSocket != nil {
		r.With(cfg.AuthMW.AuthenticateQuery).Get("/ws", cfg.WebSocket.ServeHTTP)
	}

	health := cfg.Health
	if health == nil {
		health = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}
	}
	r.Get("/health", health)

	return r
}
