// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"sceneplane/internal/auth"
	"sceneplane/internal/logger"
	"sceneplane/internal/store"
	"sceneplane/pkg/api"

	"github.com/google/uuid"
)

type userKey struct{}

// UserResolver looks up the owner of an API key hash.
type UserResolver interface {
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*store.User, error)
}

// AuthMiddleware resolves the bearer API key to a user and stores it in the request context.
func AuthMiddleware(users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := bearerToken(r)
			if !ok {
				writeError(w, "Missing or invalid authorization header", http.StatusUnauthorized)
				return
			}

			user, err := users.GetUserByAPIKeyHash(r.Context(), auth.HashKey(key))
			if errors.Is(err, store.ErrNotFound) || (err == nil && user == nil) {
				writeError(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			if err != nil {
				logger.FromContext(r.Context(), slog.Default()).Error("failed to resolve api key", "error", err)
				writeError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithUser(r.Context(), user)))
		})
	}
}

// NewContextWithUser returns a context carrying the authenticated user.
func NewContextWithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userKey{}).(*store.User)
	return user, ok && user != nil
}

// UserIDFromContext returns the id of the authenticated user, or uuid.Nil.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return user.ID, true
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: message,
		Code:  http.StatusText(code),
	})
}
