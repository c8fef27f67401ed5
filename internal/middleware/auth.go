package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/redsktop-proxy/internal/auth"
	"github.com/marcogenualdo/redsktop-proxy/internal/httpx"
)

type contextKey string

const UserContextKey contextKey = "user"

type AuthMiddleware struct {
	tokens *auth.TokenService
	logger *slog.Logger
}

func NewAuthMiddleware(tokens *auth.TokenService, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		logger: logger,
	}
}

// RequireAuth admits requests carrying a valid bearer token and stores the
// embedded profile in the request context.
func (am *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !am.tokens.Configured() {
			am.logger.Warn("bearer auth requested but no auth secret configured", "path", r.URL.Path)
			httpx.WriteErrorMessage(w, http.StatusNotImplemented, "Authentication is not configured")
			return
		}

		token := auth.ExtractBearer(r.Header.Get("Authorization"))
		if token == "" {
			httpx.WriteErrorMessage(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		user, err := am.tokens.Verify(token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				am.logger.Error("token verification failed", "error", err)
			}
			am.logger.Debug("rejected bearer token", "path", r.URL.Path)
			httpx.WriteErrorMessage(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetUser(ctx context.Context) (auth.UserProfile, bool) {
	user, ok := ctx.Value(UserContextKey).(auth.UserProfile)
	return user, ok
}

// WithUser returns ctx carrying user, as RequireAuth would.
func WithUser(ctx context.Context, user auth.UserProfile) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}
