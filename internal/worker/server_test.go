package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"sceneplane/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	stats PassStats
	err   error
	calls int
}

func (s *stubRunner) RunOnce(context.Context) (PassStats, error) {
	s.calls++
	return s.stats, s.err
}

func TestHandler_Reconcile(t *testing.T) {
	tests := []struct {
		name   string
		runner *stubRunner
		auth   string
		want   int
		calls  int
	}{
		{"ok", &stubRunner{stats: PassStats{Outstanding: 3, Advanced: 2}}, "Bearer secret", http.StatusOK, 1},
		{"pass in flight", &stubRunner{err: ErrPassInFlight}, "Bearer secret", http.StatusConflict, 1},
		{"pass failed", &stubRunner{err: errors.New("list outstanding jobs: db down")}, "Bearer secret", http.StatusInternalServerError, 1},
		{"wrong secret", &stubRunner{}, "Bearer nope", http.StatusUnauthorized, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.runner, nil, "secret", discardLogger())

			req := httptest.NewRequest(http.MethodPost, "/internal/reconcile", nil)
			req.Header.Set("Authorization", tt.auth)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
			assert.Equal(t, tt.calls, tt.runner.calls)

			if tt.want == http.StatusOK {
				var resp api.ReconcileResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				assert.Equal(t, api.ReconcileResponse{Outstanding: 3, Advanced: 2}, resp)
			}
		})
	}
}

func TestHandler_Healthz(t *testing.T) {
	h := NewHandler(&stubRunner{}, nil, "", discardLogger())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	// internal endpoints are off without a secret
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/reconcile", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
