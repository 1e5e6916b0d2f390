// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// RegisterUserRequest is the request body for registering a new user.
type RegisterUserRequest struct {
	Name             string `json:"name"`
	BrokerCredential string `json:"broker_credential"`
	RateLimit        int    `json:"rate_limit,omitempty"`
	RateLimitBurst   int    `json:"rate_limit_burst,omitempty"`
}

// RegisterUserResponse is the response body after registering a user.
type RegisterUserResponse struct {
	ID     string `json:"user_id"`
	Name   string `json:"name"`
	ApiKey string `json:"api_key"`
}

// SubmitJobRequest is the request body for submitting a new job.
// The broker credential of the calling user is used unless Credential is set.
type SubmitJobRequest struct {
	Name        string          `json:"name"`
	SceneID     string          `json:"scene_id"`
	AlgorithmID string          `json:"algorithm_id"`
	ComputeMask bool            `json:"compute_mask,omitempty"`
	Credential  string          `json:"credential,omitempty"`
	Extras      json.RawMessage `json:"extras,omitempty"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID               string          `json:"id"`
	RemoteJobID      *string         `json:"remote_job_id,omitempty"`
	Name             string          `json:"name"`
	SceneID          string          `json:"scene_id"`
	AlgorithmID      string          `json:"algorithm_id"`
	AlgorithmName    string          `json:"algorithm_name"`
	AlgorithmVersion string          `json:"algorithm_version"`
	ComputeMask      bool            `json:"compute_mask"`
	Status           string          `json:"status"`
	Tide             *float64        `json:"tide,omitempty"`
	TideMin24h       *float64        `json:"tide_min_24h,omitempty"`
	TideMax24h       *float64        `json:"tide_max_24h,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	ExecutionStep    *string         `json:"execution_step,omitempty"`
	Extras           json.RawMessage `json:"extras,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// DetectionResponse is one feature geometry of a successful job.
type DetectionResponse struct {
	FeatureIndex int             `json:"feature_index"`
	Geometry     json.RawMessage `json:"geometry"`
}

// JobErrorResponse is a recorded job failure.
type JobErrorResponse struct {
	Message   string    `json:"message"`
	Step      string    `json:"step"`
	CreatedAt time.Time `json:"created_at"`
}

// JobDetailResponse is the response body for job status queries.
type JobDetailResponse struct {
	JobResponse
	Detections []DetectionResponse `json:"detections,omitempty"`
	Errors     []JobErrorResponse  `json:"errors,omitempty"`
}

// OutstandingJobsResponse lists the jobs that have not reached a terminal status.
type OutstandingJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ReconcileResponse reports the outcome of an out-of-band reconciliation pass.
type ReconcileResponse struct {
	Outstanding int `json:"outstanding"`
	Advanced    int `json:"advanced"`
	Failed      int `json:"failed"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
