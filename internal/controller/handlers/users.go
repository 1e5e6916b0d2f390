package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"sceneplane/internal/auth"
	"sceneplane/internal/store"
	"sceneplane/pkg/api"

	"github.com/google/uuid"
)

// RegisterUser handles POST /users (internal only).
// It generates a new API key, stores its hash and returns the raw key ONCE.
func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.BrokerCredential == "" {
		h.httpError(w, "Name and broker credential are required", http.StatusBadRequest)
		return
	}
	if req.RateLimit < 0 || req.RateLimitBurst < 0 {
		h.httpError(w, "Rate limits must not be negative", http.StatusBadRequest)
		return
	}

	apiKey, err := auth.GenerateKey()
	if err != nil {
		h.httpError(w, "Entropy failure", http.StatusInternalServerError)
		return
	}

	user := &store.User{
		ID:               uuid.New(),
		Name:             req.Name,
		BrokerCredential: req.BrokerCredential,
		RateLimit:        req.RateLimit,
		RateLimitBurst:   req.RateLimitBurst,
		CreatedAt:        time.Now().UTC(),
	}

	if err := h.store.CreateUser(ctx, user, auth.HashKey(apiKey)); err != nil {
		h.logger.ErrorContext(ctx, "failed to create user", "error", err)
		h.httpError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	// Return the raw key (the only time the user sees it)
	h.respondJson(w, http.StatusCreated, api.RegisterUserResponse{
		ID:     user.ID.String(),
		Name:   user.Name,
		ApiKey: apiKey,
	})
}
