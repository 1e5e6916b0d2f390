package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sceneplane/internal/auth"
	"sceneplane/internal/jobs"
	"sceneplane/internal/store"
	"sceneplane/internal/store/storetest"

	"github.com/google/uuid"
)

type pingableMemory struct {
	*storetest.Memory
}

func (pingableMemory) Ping(context.Context) error { return nil }

type stubJobs struct{}

func (stubJobs) Submit(context.Context, jobs.SubmitRequest) (*store.Job, error) {
	return &store.Job{ID: uuid.New(), Status: store.JobStatusActivating}, nil
}

func (stubJobs) Get(context.Context, uuid.UUID) (*store.Job, error) {
	return nil, store.ErrNotFound
}

func (stubJobs) Outstanding(context.Context) ([]store.Job, error) {
	return nil, nil
}

func TestRoutes(t *testing.T) {
	mem := storetest.NewMemory()
	if err := mem.CreateUser(context.Background(), &store.User{ID: uuid.New(), Name: "analyst"}, auth.HashKey("sp_test")); err != nil {
		t.Fatal(err)
	}

	handler := NewHandler(pingableMemory{mem}, stubJobs{}, Options{
		SystemSecret:   "system",
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
	})

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		body   string
		want   int
	}{
		{"liveness", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"readiness", http.MethodGet, "/readyz", "", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"submit without key", http.MethodPost, "/jobs", "", `{}`, http.StatusUnauthorized},
		{"submit with unknown key", http.MethodPost, "/jobs", "Bearer sp_other", `{}`, http.StatusUnauthorized},
		{"submit", http.MethodPost, "/jobs", "Bearer sp_test", `{"name":"a","scene_id":"s","algorithm_id":"x"}`, http.StatusCreated},
		{"outstanding is not a job id", http.MethodGet, "/jobs/outstanding", "Bearer sp_test", "", http.StatusOK},
		{"unknown job", http.MethodGet, "/jobs/" + uuid.NewString(), "Bearer sp_test", "", http.StatusNotFound},
		{"register needs system secret", http.MethodPost, "/users", "Bearer sp_test", `{}`, http.StatusUnauthorized},
		{"register", http.MethodPost, "/users", "Bearer system", `{"name":"b","broker_credential":"k"}`, http.StatusCreated},
		{"wrong method", http.MethodDelete, "/jobs", "Bearer sp_test", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("%s %s: got status %d, want %d (%s)", tt.method, tt.path, rr.Code, tt.want, rr.Body.String())
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("response carries no request id")
			}
		})
	}
}
