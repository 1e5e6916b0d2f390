package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sceneplane/internal/auth"
	"sceneplane/pkg/api"
)

func TestRegisterUser(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockSetup      func(*mockStore)
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success",
			body:           `{"name": "analyst", "broker_credential": "pl-key", "rate_limit": 5, "rate_limit_burst": 10}`,
			expectedStatus: http.StatusCreated,
			expectedInBody: "api_key",
		},
		{
			name:           "Invalid Request Body",
			body:           `{invalid}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Missing Credential",
			body:           `{"name": "analyst"}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "broker credential",
		},
		{
			name:           "Negative Rate Limit",
			body:           `{"name": "analyst", "broker_credential": "k", "rate_limit": -1}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Database Error",
			body: `{"name": "analyst", "broker_credential": "pl-key"}`,
			mockSetup: func(m *mockStore) {
				m.createUserErr = errors.New("db down")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Failed to create",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockStore{}
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}
			h := New(mock, &mockJobs{}, nil)

			req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()

			h.RegisterUser(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %d but want %d", rr.Code, tt.expectedStatus)
			}
			if tt.expectedInBody != "" && !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %s want substring %s", rr.Body.String(), tt.expectedInBody)
			}

			if tt.expectedStatus == http.StatusCreated {
				var resp api.RegisterUserResponse
				if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if !strings.HasPrefix(resp.ApiKey, auth.KeyPrefix) {
					t.Errorf("api_key must start with %q, got %s", auth.KeyPrefix, resp.ApiKey)
				}
				if mock.createdKeyHash != auth.HashKey(resp.ApiKey) {
					t.Error("stored hash does not match the returned key")
				}
				if mock.createdUser.BrokerCredential != "pl-key" || mock.createdUser.RateLimit != 5 {
					t.Errorf("unexpected stored user: %+v", mock.createdUser)
				}
			}
		})
	}
}
