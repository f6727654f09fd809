package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/pairdesk/qr-auth-server/internal/errors"
	"github.com/pairdesk/qr-auth-server/internal/model"
	"github.com/pairdesk/qr-auth-server/internal/repository"
)

type contextKey string

const UserContextKey contextKey = "user"

func GetUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(UserContextKey).(*model.User); ok {
		return user
	}
	return nil
}

// SessionVerifier validates a session token and returns its subject user ID.
type SessionVerifier interface {
	VerifySession(token string) (string, error)
}

type AuthMiddleware struct {
	userRepo repository.UserRepository
	verifier SessionVerifier
}

func NewAuthMiddleware(userRepo repository.UserRepository, verifier SessionVerifier) *AuthMiddleware {
	return &AuthMiddleware{userRepo: userRepo, verifier: verifier}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		userID, err := m.verifier.VerifySession(token)
		if err != nil {
			log.Warn().Str("code", string(apperrors.GetCode(err))).Msg("auth middleware: invalid session token")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		user, err := m.userRepo.FindByID(r.Context(), userID)
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: database error")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Authentication failed",
			})
			return
		}

		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	// SSE clients cannot set headers from EventSource.
	return r.URL.Query().Get("token")
}
