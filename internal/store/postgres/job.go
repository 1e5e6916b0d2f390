package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sceneplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const jobColumns = `id, remote_job_id, name, created_by, algorithm_id, algorithm_name, algorithm_version,
	scene_id, compute_mask, extras, status, tide, tide_min_24h, tide_max_24h,
	error_message, execution_step, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var job store.Job
	err := row.Scan(
		&job.ID, &job.RemoteJobID, &job.Name, &job.CreatedBy,
		&job.AlgorithmID, &job.AlgorithmName, &job.AlgorithmVersion,
		&job.SceneID, &job.ComputeMask, &job.Extras, &job.Status,
		&job.Tide, &job.TideMin24h, &job.TideMax24h,
		&job.ErrorMessage, &job.ExecutionStep, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func outstandingArray() interface{} {
	statuses := make([]string, len(store.OutstandingStatuses))
	for i, s := range store.OutstandingStatuses {
		statuses[i] = string(s)
	}
	return pq.Array(statuses)
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	query := `
		INSERT INTO jobs (id, remote_job_id, name, created_by, algorithm_id, algorithm_name, algorithm_version,
			scene_id, compute_mask, extras, status, tide, tide_min_24h, tide_max_24h, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := s.getExecutor(tx).ExecContext(ctx, query,
		job.ID,
		job.RemoteJobID,
		job.Name,
		job.CreatedBy,
		job.AlgorithmID,
		job.AlgorithmName,
		job.AlgorithmVersion,
		job.SceneID,
		job.ComputeMask,
		nullableJSON(job.Extras),
		job.Status,
		job.Tide,
		job.TideMin24h,
		job.TideMax24h,
		job.CreatedAt,
		job.CreatedAt,
	)
	return err
}

func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE id = $1"

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// FindSuccessfulJob is the deduplication lookup. Only SUCCESS jobs qualify,
// so failed or cancelled attempts never block a resubmission.
func (s *Store) FindSuccessfulJob(ctx context.Context, sceneID, algorithmID, algorithmVersion string, computeMask bool) (*store.Job, error) {
	query := "SELECT " + jobColumns + `
		FROM jobs
		WHERE scene_id = $1 AND algorithm_id = $2 AND algorithm_version = $3 AND compute_mask = $4 AND status = $5
		ORDER BY created_at DESC
		LIMIT 1
	`

	job, err := scanJob(s.db.QueryRowContext(ctx, query,
		sceneID, algorithmID, algorithmVersion, computeMask, store.JobStatusSuccess,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) ListOutstandingJobs(ctx context.Context) ([]store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE status = ANY($1) ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, outstandingArray())
	if err != nil {
		return nil, fmt.Errorf("list outstanding jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outstanding job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *Store) CountOutstandingJobs(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE status = ANY($1)", outstandingArray()).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) MarkSubmitted(ctx context.Context, id uuid.UUID, remoteJobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, remote_job_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, store.JobStatusSubmitted, remoteJobID, id, store.JobStatusActivating)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to store.JobStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", from, to, id)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

// CompleteJob stores the detections and flips the job to SUCCESS.
// Either both land or neither does.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, detections []store.Detection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error_message = NULL, execution_step = NULL, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, store.JobStatusSuccess, id, outstandingArray())
	if err != nil {
		return fmt.Errorf("failed to mark job %s successful: %w", id, err)
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}

	for _, d := range detections {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO detections (job_id, feature_index, geometry)
			VALUES ($1, $2, $3)
		`, id, d.FeatureIndex, []byte(d.Geometry)); err != nil {
			return fmt.Errorf("failed to insert detection %d for job %s: %w", d.FeatureIndex, id, err)
		}
	}

	return tx.Commit()
}

// FailJob records the failure and moves the job to a terminal failure status.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, status store.JobStatus, step, message string) error {
	if status != store.JobStatusError && status != store.JobStatusCancelled {
		return fmt.Errorf("FailJob called with non-failure status %s", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error_message = $2, execution_step = $3, updated_at = NOW()
		WHERE id = $4 AND status = ANY($5)
	`, status, message, step, id, outstandingArray())
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", id, err)
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_errors (job_id, error_message, execution_step)
		VALUES ($1, $2, $3)
	`, id, message, step); err != nil {
		return fmt.Errorf("failed to record error for job %s: %w", id, err)
	}

	return tx.Commit()
}

func (s *Store) ListDetections(ctx context.Context, jobID uuid.UUID) ([]store.Detection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, feature_index, geometry, created_at
		FROM detections
		WHERE job_id = $1
		ORDER BY feature_index ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []store.Detection
	for rows.Next() {
		var d store.Detection
		if err := rows.Scan(&d.JobID, &d.FeatureIndex, &d.Geometry, &d.CreatedAt); err != nil {
			return nil, err
		}
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

func (s *Store) ListJobErrors(ctx context.Context, jobID uuid.UUID) ([]store.JobError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, error_message, execution_step, created_at
		FROM job_errors
		WHERE job_id = $1
		ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []store.JobError
	for rows.Next() {
		var e store.JobError
		if err := rows.Scan(&e.ID, &e.JobID, &e.ErrorMessage, &e.ExecutionStep, &e.CreatedAt); err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}

func expectOneRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, store.ErrStaleStatus)
	}
	return nil
}
