package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrStaleStatus is returned when a transition finds the job in another status than expected,
// which includes every terminal status.
var ErrStaleStatus = errors.New("job is not in the expected status")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// UserStore handles retrieving user information for authentication.
type UserStore interface {
	// CreateUser inserts a new user to the database
	CreateUser(ctx context.Context, user *User, hashedKey string) error

	// GetUserByID returns a user by its ID.
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetUserByAPIKeyHash returns a user by its API key hash.
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*User, error)
}

// SceneStore caches scenes for display.
type SceneStore interface {
	// UpsertScene inserts or refreshes a scene row.
	UpsertScene(ctx context.Context, tx DBTransaction, scene *Scene) error

	// GetSceneByID returns the cached scene.
	GetSceneByID(ctx context.Context, id string) (*Scene, error)
}

// JobStore handles the persistence of jobs, detections and job errors.
type JobStore interface {
	// CreateJob inserts the initial row of a job.
	CreateJob(ctx context.Context, tx DBTransaction, job *Job) error

	// GetJobByID returns a job by its ID.
	GetJobByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// FindSuccessfulJob returns the most recent SUCCESS job for the same
	// scene, algorithm, version and compute mask, or ErrNotFound.
	FindSuccessfulJob(ctx context.Context, sceneID, algorithmID, algorithmVersion string, computeMask bool) (*Job, error)

	// ListOutstandingJobs returns every job whose status is not terminal.
	ListOutstandingJobs(ctx context.Context) ([]Job, error)

	// CountOutstandingJobs returns the number of non-terminal jobs.
	CountOutstandingJobs(ctx context.Context) (int64, error)

	// MarkSubmitted moves an ACTIVATING job to SUBMITTED and records the remote job id.
	MarkSubmitted(ctx context.Context, id uuid.UUID, remoteJobID string) error

	// UpdateStatus moves a non-terminal job from one status to another.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to JobStatus) error

	// CompleteJob writes the detections and the SUCCESS transition in a single transaction.
	CompleteJob(ctx context.Context, id uuid.UUID, detections []Detection) error

	// FailJob writes a JobError and the terminal status (ERROR or CANCELLED) in a single transaction.
	FailJob(ctx context.Context, id uuid.UUID, status JobStatus, step, message string) error

	// ListDetections returns the detections of a job ordered by feature index.
	ListDetections(ctx context.Context, jobID uuid.UUID) ([]Detection, error)

	// ListJobErrors returns the failure records of a job.
	ListJobErrors(ctx context.Context, jobID uuid.UUID) ([]JobError, error)
}
