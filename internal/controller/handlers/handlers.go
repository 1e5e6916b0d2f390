// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"sceneplane/internal/algorithm"
	"sceneplane/internal/execution"
	"sceneplane/internal/jobs"
	"sceneplane/internal/logger"
	"sceneplane/internal/scene"
	"sceneplane/internal/store"
	"sceneplane/pkg/api"

	"github.com/google/uuid"
)

// Store combines the persistence the handlers read from directly.
type Store interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, user *store.User, hashedKey string) error
	ListDetections(ctx context.Context, jobID uuid.UUID) ([]store.Detection, error)
	ListJobErrors(ctx context.Context, jobID uuid.UUID) ([]store.JobError, error)
}

// JobService runs the submission pipeline.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*store.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*store.Job, error)
	Outstanding(ctx context.Context) ([]store.Job, error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store  Store
	jobs   JobService
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(s Store, j JobService, l *slog.Logger) *Handlers {
	if l == nil {
		l = slog.Default()
	}
	return &Handlers{store: s, jobs: j, logger: l}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// serviceError maps a domain error to its HTTP status. Unexpected errors are
// logged and hidden behind a generic message.
func (h *Handlers) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", code)
		return
	}
	h.respondJson(w, code, api.ErrorResponse{
		Error:   http.StatusText(code),
		Code:    strconv.Itoa(code),
		Details: err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest),
		errors.Is(err, algorithm.ErrUnknownAlgorithm),
		errors.Is(err, scene.ErrUnsupportedPlatform),
		errors.Is(err, scene.ErrInvalidSceneID):
		return http.StatusBadRequest
	case errors.Is(err, scene.ErrBrokerUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, scene.ErrBrokerNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scene.ErrBrokerUpstream), errors.Is(err, execution.ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
