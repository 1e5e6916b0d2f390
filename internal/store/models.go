// Package store contains the database layer for sceneplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is an account allowed to submit jobs.
// BrokerCredential is the user's imagery broker key; the worker needs it to
// re-fetch scenes for jobs that are still activating.
type User struct {
	ID               uuid.UUID
	Name             string
	BrokerCredential string
	RateLimit        int
	RateLimitBurst   int
	CreatedAt        time.Time
}

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusActivating JobStatus = "ACTIVATING"
	JobStatusSubmitted  JobStatus = "SUBMITTED"
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusSuccess    JobStatus = "SUCCESS"
	JobStatusError      JobStatus = "ERROR"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// OutstandingStatuses lists every non-terminal status.
var OutstandingStatuses = []JobStatus{
	JobStatusActivating,
	JobStatusSubmitted,
	JobStatusRunning,
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusError, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine has an edge from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusActivating:
		return next == JobStatusSubmitted || next == JobStatusError
	case JobStatusSubmitted:
		return next == JobStatusRunning || next == JobStatusSuccess ||
			next == JobStatusError || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusSuccess || next == JobStatusError || next == JobStatusCancelled
	}
	return false
}

// Execution steps recorded with a failure.
const (
	StepActivation = "activation"
	StepSubmission = "submission"
	StepStatus     = "status"
	StepDownload   = "download"
	StepParse      = "parse"
	StepPersist    = "persist"
)

// Job is a single analysis request against a scene.
// Extras is stored and returned verbatim; nothing in sceneplane inspects it.
type Job struct {
	ID               uuid.UUID
	RemoteJobID      *string
	Name             string
	CreatedBy        uuid.UUID
	AlgorithmID      string
	AlgorithmName    string
	AlgorithmVersion string
	SceneID          string
	ComputeMask      bool
	Extras           json.RawMessage
	Status           JobStatus
	Tide             *float64
	TideMin24h       *float64
	TideMax24h       *float64
	ErrorMessage     *string
	ExecutionStep    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Detection is one feature geometry of a successful job's result.
// Geometry holds the GeoJSON encoding of the feature geometry.
type Detection struct {
	JobID        uuid.UUID
	FeatureIndex int
	Geometry     json.RawMessage
	CreatedAt    time.Time
}

// JobError is the append-only audit record of a terminal job failure.
type JobError struct {
	ID            int64
	JobID         uuid.UUID
	ErrorMessage  string
	ExecutionStep string
	CreatedAt     time.Time
}

// Scene is the display cache of a broker scene, refreshed on every submission.
type Scene struct {
	ID         string
	CapturedOn time.Time
	CloudCover float64
	Resolution float64
	SensorName string
	Status     string
	Geometry   json.RawMessage
	Tide       *float64
	TideMin24h *float64
	TideMax24h *float64
	FetchedAt  time.Time
}
