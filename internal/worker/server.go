package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"sceneplane/internal/controller/middleware"
	"sceneplane/pkg/api"
)

type passRunner interface {
	RunOnce(ctx context.Context) (PassStats, error)
}

// NewHandler serves the worker's side port: liveness, metrics and an
// internal endpoint that runs one pass out of band.
func NewHandler(r passRunner, metrics http.Handler, systemSecret string, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	reconcile := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		stats, err := r.RunOnce(req.Context())
		switch {
		case errors.Is(err, ErrPassInFlight):
			respondJSON(w, http.StatusConflict, api.ErrorResponse{Error: err.Error(), Code: "409"})
			return
		case err != nil:
			log.Error("out of band pass failed", "error", err)
			respondJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "Pass failed", Code: "500"})
			return
		}
		respondJSON(w, http.StatusOK, api.ReconcileResponse{
			Outstanding: stats.Outstanding,
			Advanced:    stats.Advanced,
			Failed:      stats.Failed,
		})
	})
	mux.Handle("POST /internal/reconcile", middleware.RequireInternalAuth(systemSecret)(reconcile))

	return mux
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
