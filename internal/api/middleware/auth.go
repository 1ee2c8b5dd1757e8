package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/api/shared"
	"github.com/phrazzld/taskboard-api/internal/domain"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	"github.com/phrazzld/taskboard-api/internal/service/auth"
	"github.com/phrazzld/taskboard-api/internal/store"
)

// Client-facing authentication failures. Only the presence of a credential
// is distinguished.
const (
	MsgNoToken     = "Not authorized, no token"
	MsgTokenFailed = "Not authorized, token failed"
	MsgForbidden   = "Not authorized to access this route"
)

// tokenQueryParam carries the credential for clients that cannot set
// headers, such as browser WebSocket handshakes.
const tokenQueryParam = "token"

// PrincipalResolver loads the account a validated token names. The stored
// role wins over the role claim, so demotions and deletions apply to tokens
// already issued. service.UserService satisfies it.
type PrincipalResolver interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// AuthMiddleware provides JWT authentication for routes.
type AuthMiddleware struct {
	jwtService auth.JWTService
	users      PrincipalResolver
}

// NewAuthMiddleware creates a new AuthMiddleware with the given dependencies.
func NewAuthMiddleware(jwtService auth.JWTService, users PrincipalResolver) *AuthMiddleware {
	return &AuthMiddleware{jwtService: jwtService, users: users}
}

// Authenticate validates the bearer token in the Authorization header and
// stores the caller's domain.Principal in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return m.authenticate(next, false)
}

// AuthenticateQuery behaves like Authenticate but also accepts the token
// from the "token" query parameter.
func (m *AuthMiddleware) AuthenticateQuery(next http.Handler) http.Handler {
	return m.authenticate(next, true)
}

func (m *AuthMiddleware) authenticate(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present := bearerToken(r)
		if !present && allowQuery {
			token = r.URL.Query().Get(tokenQueryParam)
			present = token != ""
		}
		if !present {
			shared.RespondWithError(w, r, http.StatusUnauthorized, MsgNoToken)
			return
		}

		claims, err := m.jwtService.ValidateToken(r.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			msg := MsgTokenFailed
			if !isTokenError(err) {
				status = http.StatusInternalServerError
				msg = "Authentication error"
			}
			shared.RespondWithErrorAndLog(w, r, status, msg, err, shared.WithElevatedLogLevel())
			return
		}

		user, err := m.users.GetUser(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, MsgTokenFailed, err)
				return
			}
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Authentication error", err,
				shared.WithElevatedLogLevel())
			return
		}

		p := domain.Principal{UserID: user.ID, Role: user.Role}
		log := logger.FromContextOrDefault(r.Context(), slog.Default()).
			With(slog.String("user_id", p.UserID.String()))
		if p.Role != claims.Role {
			log.Debug("role claim is stale",
				slog.String("claimed_role", string(claims.Role)),
				slog.String("role", string(p.Role)))
		}
		ctx := logger.WithLogger(shared.WithPrincipal(r.Context(), p), log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects authenticated callers whose role differs from role.
// It must run after Authenticate.
func RequireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				shared.RespondWithError(w, r, http.StatusUnauthorized, MsgNoToken)
				return
			}
			if p.Role != role {
				logger.FromContextOrDefault(r.Context(), slog.Default()).Debug("role check failed",
					slog.String("required_role", string(role)),
					slog.String("role", string(p.Role)))
				shared.RespondWithError(w, r, http.StatusForbidden, MsgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the credential from "Authorization: Bearer <token>".
// A header with another scheme or an empty token counts as absent.
func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func isTokenError(err error) bool {
	return errors.Is(err, auth.ErrInvalidToken) ||
		errors.Is(err, auth.ErrExpiredToken) ||
		errors.Is(err, auth.ErrTokenNotYetValid) ||
		errors.Is(err, auth.ErrWrongTokenType) ||
		errors.Is(err, auth.ErrMissingToken)
}
