package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sceneplane/pkg/api"
)

// JobClient handles API calls to the sceneplane controller.
type JobClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewJobClient creates a new client with the given base URL and token.
func NewJobClient(baseURL, token string) *JobClient {
	return &JobClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// SubmitJob sends POST /jobs. The returned status code tells a new job (201)
// from an existing successful one (200).
func (c *JobClient) SubmitJob(req api.SubmitJobRequest) (*api.JobResponse, int, error) {
	var result api.JobResponse
	code, err := c.do(http.MethodPost, "/jobs", req, &result)
	if err != nil {
		return nil, code, err
	}
	return &result, code, nil
}

// GetJob sends GET /jobs/{id}.
func (c *JobClient) GetJob(jobID string) (*api.JobDetailResponse, error) {
	var result api.JobDetailResponse
	if _, err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListOutstanding sends GET /jobs/outstanding.
func (c *JobClient) ListOutstanding() ([]api.JobResponse, error) {
	var result api.OutstandingJobsResponse
	if _, err := c.do(http.MethodGet, "/jobs/outstanding", nil, &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// RegisterUser sends POST /users. The token must be the system secret.
func (c *JobClient) RegisterUser(req api.RegisterUserRequest) (*api.RegisterUserResponse, error) {
	var result api.RegisterUserResponse
	if _, err := c.do(http.MethodPost, "/users", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *JobClient) do(method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.StatusCode, nil
}

// errorMessage prefers the details of a standard error body over the raw text.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.Details != "" {
			return e.Error + ": " + e.Details
		}
		return e.Error
	}
	return string(bytes.TrimSpace(body))
}
