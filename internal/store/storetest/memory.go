// Package storetest provides an in-memory store for tests of packages built on the store interfaces.
// It enforces the same status guards as the Postgres implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sceneplane/internal/store"

	"github.com/google/uuid"
)

// Memory implements store.JobStore, store.SceneStore and store.UserStore.
type Memory struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]store.Job
	detections map[uuid.UUID][]store.Detection
	jobErrors  map[uuid.UUID][]store.JobError
	scenes     map[string]store.Scene
	users      map[uuid.UUID]store.User
	keys       map[string]uuid.UUID
	nextErrID  int64

	// FailCompleteJob makes CompleteJob fail after validating the transition,
	// leaving nothing written.
	FailCompleteJob error
	// FailList makes ListOutstandingJobs fail.
	FailList error

	history map[uuid.UUID][]store.JobStatus
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		jobs:        make(map[uuid.UUID]store.Job),
		detections:  make(map[uuid.UUID][]store.Detection),
		jobErrors:   make(map[uuid.UUID][]store.JobError),
		scenes:      make(map[string]store.Scene),
		users:       make(map[uuid.UUID]store.User),
		keys:        make(map[string]uuid.UUID),
		history:     make(map[uuid.UUID][]store.JobStatus),
	}
}

func (m *Memory) CreateUser(_ context.Context, user *store.User, hashedKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[hashedKey]; ok {
		return errors.New("duplicate api key")
	}
	m.users[user.ID] = *user
	m.keys[hashedKey] = user.ID
	return nil
}

func (m *Memory) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (m *Memory) GetUserByAPIKeyHash(_ context.Context, hash string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := m.users[id]
	return &u, nil
}

func (m *Memory) UpsertScene(_ context.Context, _ store.DBTransaction, scene *store.Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenes[scene.ID] = *scene
	return nil
}

func (m *Memory) GetSceneByID(_ context.Context, id string) (*store.Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (m *Memory) CreateJob(_ context.Context, _ store.DBTransaction, job *store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = *job
	m.history[job.ID] = append(m.history[job.ID], job.Status)
	return nil
}

// PutJob stores a job as is, bypassing every guard.
func (m *Memory) PutJob(job store.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	m.history[job.ID] = append(m.history[job.ID], job.Status)
}

func (m *Memory) GetJobByID(_ context.Context, id uuid.UUID) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &j, nil
}

func (m *Memory) FindSuccessfulJob(_ context.Context, sceneID, algorithmID, algorithmVersion string, computeMask bool) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *store.Job
	for _, j := range m.jobs {
		if j.SceneID == sceneID && j.AlgorithmID == algorithmID && j.AlgorithmVersion == algorithmVersion &&
			j.ComputeMask == computeMask && j.Status == store.JobStatusSuccess {
			if found == nil || j.CreatedAt.After(found.CreatedAt) {
				jj := j
				found = &jj
			}
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (m *Memory) ListOutstandingJobs(_ context.Context) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailList != nil {
		return nil, m.FailList
	}

	var out []store.Job
	for _, j := range m.jobs {
		if !j.Status.IsTerminal() {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (m *Memory) CountOutstandingJobs(ctx context.Context) (int64, error) {
	jobs, err := m.ListOutstandingJobs(ctx)
	return int64(len(jobs)), err
}

func (m *Memory) MarkSubmitted(_ context.Context, id uuid.UUID, remoteJobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.guard(id, store.JobStatusSubmitted, store.JobStatusActivating)
	if err != nil {
		return err
	}
	j.RemoteJobID = &remoteJobID
	m.set(j, store.JobStatusSubmitted)
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, id uuid.UUID, from, to store.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", from, to, id)
	}
	j, err := m.guard(id, to, from)
	if err != nil {
		return err
	}
	m.set(j, to)
	return nil
}

func (m *Memory) CompleteJob(_ context.Context, id uuid.UUID, detections []store.Detection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.guard(id, store.JobStatusSuccess, store.OutstandingStatuses...)
	if err != nil {
		return err
	}
	if m.FailCompleteJob != nil {
		return m.FailCompleteJob
	}

	now := time.Now().UTC()
	rows := make([]store.Detection, len(detections))
	for i, d := range detections {
		d.JobID = id
		d.CreatedAt = now
		rows[i] = d
	}
	m.detections[id] = rows
	j.ErrorMessage = nil
	j.ExecutionStep = nil
	m.set(j, store.JobStatusSuccess)
	return nil
}

func (m *Memory) FailJob(_ context.Context, id uuid.UUID, status store.JobStatus, step, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status != store.JobStatusError && status != store.JobStatusCancelled {
		return fmt.Errorf("FailJob called with non-failure status %s", status)
	}
	j, err := m.guard(id, status, store.OutstandingStatuses...)
	if err != nil {
		return err
	}

	m.nextErrID++
	m.jobErrors[id] = append(m.jobErrors[id], store.JobError{
		ID:            m.nextErrID,
		JobID:         id,
		ErrorMessage:  message,
		ExecutionStep: step,
		CreatedAt:     time.Now().UTC(),
	})
	j.ErrorMessage = &message
	j.ExecutionStep = &step
	m.set(j, status)
	return nil
}

func (m *Memory) ListDetections(_ context.Context, jobID uuid.UUID) ([]store.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Detection(nil), m.detections[jobID]...), nil
}

func (m *Memory) ListJobErrors(_ context.Context, jobID uuid.UUID) ([]store.JobError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.JobError(nil), m.jobErrors[jobID]...), nil
}

// History returns every status the job has held, in order.
func (m *Memory) History(id uuid.UUID) []store.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.JobStatus(nil), m.history[id]...)
}

// guard returns the job when its current status is one of from, mirroring the
// WHERE status = ... clauses of the SQL store.
func (m *Memory) guard(id uuid.UUID, to store.JobStatus, from ...store.JobStatus) (store.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return store.Job{}, fmt.Errorf("job %s: %w", id, store.ErrStaleStatus)
	}
	for _, f := range from {
		if j.Status == f {
			if !f.CanTransition(to) {
				return store.Job{}, fmt.Errorf("illegal transition %s -> %s for job %s", f, to, id)
			}
			return j, nil
		}
	}
	return store.Job{}, fmt.Errorf("job %s: %w", id, store.ErrStaleStatus)
}

func (m *Memory) set(j store.Job, status store.JobStatus) {
	j.Status = status
	j.UpdatedAt = time.Now().UTC()
	m.jobs[j.ID] = j
	m.history[j.ID] = append(m.history[j.ID], status)
}
