// Package jobs implements job submission and the deferred submission of jobs
// whose scene was still activating.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sceneplane/internal/algorithm"
	"sceneplane/internal/execution"
	"sceneplane/internal/scene"
	"sceneplane/internal/store"

	"github.com/google/uuid"
)

// ErrInvalidRequest is returned for submissions that can never succeed as sent.
var ErrInvalidRequest = errors.New("invalid job request")

// Coordinator is the scene activation surface the service needs.
type Coordinator interface {
	Fetch(ctx context.Context, sceneID, credential string, withTides bool) (*scene.Scene, error)
	Activate(ctx context.Context, s *scene.Scene, credential string) error
	ActivateAndAwait(s *scene.Scene, credential string) *scene.Handle
}

// Submitter starts remote executions.
type Submitter interface {
	Submit(ctx context.Context, req execution.SubmitRequest) (string, error)
}

// Store is the persistence the service needs.
type Store interface {
	store.JobStore
	store.SceneStore
	store.UserStore
}

// SubmitRequest carries the parameters of a new job.
type SubmitRequest struct {
	Name        string
	CreatedBy   uuid.UUID
	SceneID     string
	AlgorithmID string
	Credential  string
	ComputeMask bool
	Extras      json.RawMessage
}

// Service runs the submission pipeline and tracks activation handles of
// ACTIVATING jobs for the reconciler.
type Service struct {
	store       Store
	algorithms  algorithm.Directory
	coordinator Coordinator
	submitter   Submitter
	logger      *slog.Logger
	now         func() time.Time

	// Handles older than retention belong to jobs the reconciler has failed
	// on activation timeout, or advanced from another process.
	retention time.Duration

	// awaitOnSubmit starts polling at submission time. Only a Service that
	// also serves the reconciler ever reads those handles.
	awaitOnSubmit bool

	mu      sync.Mutex
	handles map[uuid.UUID]trackedHandle
}

type trackedHandle struct {
	handle *scene.Handle
	since  time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHandleRetention bounds how long an activation handle is kept. It should
// match the activation timeout of the reconciler.
func WithHandleRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithAwaitOnSubmit makes Submit start an activation handle for every
// ACTIVATING job. Use it when submission and reconciliation share one Service.
// Otherwise submission only requests activation and the reconciler polls.
func WithAwaitOnSubmit() Option {
	return func(s *Service) {
		s.awaitOnSubmit = true
	}
}

// NewService creates a job service.
func NewService(s Store, algorithms algorithm.Directory, coordinator Coordinator, submitter Submitter, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		store:       s,
		algorithms:  algorithms,
		coordinator: coordinator,
		submitter:   submitter,
		logger:      logger,
		now:         time.Now,
		retention:   30 * time.Minute,
		handles:     make(map[uuid.UUID]trackedHandle),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Submit validates the request and either returns an equivalent successful job
// or creates a new one. The job is SUBMITTED when the scene was already active,
// ACTIVATING otherwise. Nothing is persisted when the remote submission fails.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*store.Job, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	alg, err := s.algorithms.Get(ctx, req.AlgorithmID)
	if err != nil {
		return nil, err
	}

	sc, err := s.coordinator.Fetch(ctx, req.SceneID, req.Credential, true)
	if err != nil {
		return nil, err
	}
	if err := scene.CheckPlatform(sc.Platform); err != nil {
		return nil, err
	}
	if !alg.AcceptsCloudCover(sc.CloudCover) {
		return nil, fmt.Errorf("%w: scene cloud cover %.2f exceeds %.2f allowed by %s",
			ErrInvalidRequest, sc.CloudCover, alg.MaxCloudCover, alg.ID)
	}
	s.cacheScene(ctx, sc)

	if err := s.coordinator.Activate(ctx, sc, req.Credential); err != nil {
		return nil, err
	}

	existing, err := s.store.FindSuccessfulJob(ctx, sc.ID, alg.ID, alg.Version, req.ComputeMask)
	if err == nil {
		s.logger.InfoContext(ctx, "returning existing successful job",
			"job_id", existing.ID, "scene_id", sc.ID, "algorithm_id", alg.ID)
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("deduplication lookup: %w", err)
	}

	now := s.now().UTC()
	job := &store.Job{
		ID:               uuid.New(),
		Name:             req.Name,
		CreatedBy:        req.CreatedBy,
		AlgorithmID:      alg.ID,
		AlgorithmName:    alg.Name,
		AlgorithmVersion: alg.Version,
		SceneID:          sc.ID,
		ComputeMask:      req.ComputeMask,
		Extras:           req.Extras,
		Tide:             sc.Tide,
		TideMin24h:       sc.TideMin24h,
		TideMax24h:       sc.TideMax24h,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if sc.Status == scene.StatusActive {
		remoteID, err := s.submitRemote(ctx, alg, sc, req.ComputeMask)
		if err != nil {
			return nil, err
		}
		job.RemoteJobID = &remoteID
		job.Status = store.JobStatusSubmitted

		if err := s.store.CreateJob(ctx, nil, job); err != nil {
			s.logger.ErrorContext(ctx, "remote job submitted but not recorded",
				"remote_job_id", remoteID, "scene_id", sc.ID, "error", err)
			return nil, fmt.Errorf("failed to create job: %w", err)
		}
		s.logger.InfoContext(ctx, "job submitted", "job_id", job.ID, "remote_job_id", remoteID, "scene_id", sc.ID)
		return job, nil
	}

	job.Status = store.JobStatusActivating
	if err := s.store.CreateJob(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if s.awaitOnSubmit {
		// Activation was requested above; the handle only has to poll.
		pending := *sc
		if pending.Status == scene.StatusInactive {
			pending.Status = scene.StatusActivating
		}
		s.track(job.ID, s.coordinator.ActivateAndAwait(&pending, req.Credential))
	}

	s.logger.InfoContext(ctx, "job awaiting scene activation", "job_id", job.ID, "scene_id", sc.ID)
	return job, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	return s.store.GetJobByID(ctx, id)
}

// Outstanding returns every non-terminal job.
func (s *Service) Outstanding(ctx context.Context) ([]store.Job, error) {
	return s.store.ListOutstandingJobs(ctx)
}

// CheckActivation reports whether the scene of an ACTIVATING job is ready.
// It returns the active scene, or nil while activation is still in progress.
// Errors are either terminal activation failures (see IsActivationFailure) or
// transient lookups that may be retried.
func (s *Service) CheckActivation(ctx context.Context, job *store.Job) (*scene.Scene, error) {
	if h := s.handle(job.ID); h != nil {
		sc, err := h.Result()
		switch {
		case errors.Is(err, scene.ErrActivationPending):
			return nil, nil
		case err != nil:
			s.Forget(job.ID)
			if IsActivationFailure(err) {
				return nil, err
			}
			// e.g. cancelled on shutdown: look again on the next pass
			return nil, fmt.Errorf("activation handle for job %s: %w", job.ID, err)
		}
		return sc, nil
	}

	// No handle: the job was created by another process or before a restart.
	user, err := s.store.GetUserByID(ctx, job.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("load creator of job %s: %w", job.ID, err)
	}

	sc, err := s.coordinator.Fetch(ctx, job.SceneID, user.BrokerCredential, false)
	if err != nil {
		return nil, err
	}
	if sc.Status == scene.StatusActive {
		return sc, nil
	}

	s.track(job.ID, s.coordinator.ActivateAndAwait(sc, user.BrokerCredential))
	return nil, nil
}

// SubmitDeferred starts the remote execution of an ACTIVATING job once its scene is active.
func (s *Service) SubmitDeferred(ctx context.Context, job *store.Job, sc *scene.Scene) (string, error) {
	alg, err := s.algorithms.Get(ctx, job.AlgorithmID)
	if err != nil {
		return "", err
	}
	return s.submitRemote(ctx, alg, sc, job.ComputeMask)
}

// Forget cancels and drops the activation handle of a job.
func (s *Service) Forget(id uuid.UUID) {
	s.mu.Lock()
	t, ok := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()

	if ok {
		t.handle.Cancel()
	}
}

// Tracked returns the number of activation handles held.
func (s *Service) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// IsActivationFailure reports whether err means the scene will never become active for this job.
func IsActivationFailure(err error) bool {
	return scene.IsPermanent(err) || errors.Is(err, scene.ErrActivationTimeout)
}

// IsPermanentSubmitError reports whether a remote submission can never succeed on retry.
func IsPermanentSubmitError(err error) bool {
	if errors.Is(err, algorithm.ErrUnknownAlgorithm) || errors.Is(err, scene.ErrUnsupportedPlatform) {
		return true
	}
	var se *execution.StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != 429
}

func (s *Service) submitRemote(ctx context.Context, alg *algorithm.Algorithm, sc *scene.Scene, computeMask bool) (string, error) {
	files, err := scene.InputFiles(sc)
	if err != nil {
		return "", err
	}

	inputs := make([]execution.Input, len(files))
	for i, f := range files {
		inputs[i] = execution.Input{Name: f.Name, URL: f.URL}
	}

	return s.submitter.Submit(ctx, execution.SubmitRequest{
		ServiceID: alg.ServiceID,
		Args:      alg.Args(computeMask),
		Inputs:    inputs,
	})
}

func (s *Service) cacheScene(ctx context.Context, sc *scene.Scene) {
	cached := &store.Scene{
		ID:         sc.ID,
		CapturedOn: sc.CapturedOn,
		CloudCover: sc.CloudCover,
		Resolution: sc.Resolution,
		SensorName: sc.SensorName,
		Status:     string(sc.Status),
		Tide:       sc.Tide,
		TideMin24h: sc.TideMin24h,
		TideMax24h: sc.TideMax24h,
		FetchedAt:  s.now().UTC(),
	}
	if sc.Footprint != nil {
		if raw, err := sc.Footprint.MarshalJSON(); err == nil {
			cached.Geometry = raw
		}
	}

	if err := s.store.UpsertScene(ctx, nil, cached); err != nil {
		s.logger.WarnContext(ctx, "failed to cache scene", "scene_id", sc.ID, "error", err)
	}
}

func (s *Service) track(id uuid.UUID, h *scene.Handle) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for other, t := range s.handles {
		if other == id || now.Sub(t.since) > s.retention {
			t.handle.Cancel()
			delete(s.handles, other)
		}
	}
	s.handles[id] = trackedHandle{handle: h, since: now}
}

func (s *Service) handle(id uuid.UUID) *scene.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[id].handle
}

func (r SubmitRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.Name) == "" {
		missing = append(missing, "name")
	}
	if r.CreatedBy == uuid.Nil {
		missing = append(missing, "creator")
	}
	if strings.TrimSpace(r.SceneID) == "" {
		missing = append(missing, "scene_id")
	}
	if strings.TrimSpace(r.AlgorithmID) == "" {
		missing = append(missing, "algorithm_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if len(r.Extras) > 0 && !json.Valid(r.Extras) {
		return fmt.Errorf("%w: extras is not valid JSON", ErrInvalidRequest)
	}
	return nil
}
