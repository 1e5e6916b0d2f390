// Package worker runs the reconciliation loop that advances outstanding jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sceneplane/internal/execution"
	"sceneplane/internal/jobs"
	"sceneplane/internal/logger"
	"sceneplane/internal/observability"
	"sceneplane/internal/scene"
	"sceneplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrPassInFlight is returned by RunOnce when another pass holds the loop,
// in this process or, with a PassLocker, in another worker.
var ErrPassInFlight = errors.New("reconciliation pass already in flight")

// Executor is the part of the execution service the loop polls.
type Executor interface {
	Status(ctx context.Context, remoteID string) (*execution.JobStatus, error)
	Download(ctx context.Context, dataID string) ([]byte, error)
}

// Activations resolves ACTIVATING jobs.
type Activations interface {
	CheckActivation(ctx context.Context, job *store.Job) (*scene.Scene, error)
	SubmitDeferred(ctx context.Context, job *store.Job, sc *scene.Scene) (string, error)
	Forget(id uuid.UUID)
}

// PassLocker provides exclusion between worker processes.
type PassLocker interface {
	TryLockPass(ctx context.Context) (release func(), ok bool, err error)
}

// Config holds configuration for the reconciler.
type Config struct {
	Interval          time.Duration // Time between passes (default: 30s)
	ActivationTimeout time.Duration // Budget for ACTIVATING, from job creation (default: 30m)
	JobTimeout        time.Duration // Budget before an unreachable remote job fails (default: 4h)
	Concurrency       int           // Jobs advanced in parallel within a pass (default: 4)
}

// PassStats summarizes one pass.
type PassStats struct {
	Outstanding int
	Advanced    int
	Failed      int
}

// Reconciler owns every job status transition after creation.
type Reconciler struct {
	store       store.JobStore
	activations Activations
	executor    Executor
	locker      PassLocker
	config      Config
	logger      *slog.Logger
	metrics     *observability.ReconcileMetrics
	tracer      trace.Tracer
	now         func() time.Time

	running sync.Mutex
	done    chan struct{}
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithPassLocker adds cross-process pass exclusion.
func WithPassLocker(l PassLocker) Option {
	return func(r *Reconciler) { r.locker = l }
}

// WithMetrics records pass and transition metrics.
func WithMetrics(m *observability.ReconcileMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock replaces time.Now for timeout checks.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler.
func New(s store.JobStore, activations Activations, executor Executor, config Config, log *slog.Logger, opts ...Option) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.ActivationTimeout <= 0 {
		config.ActivationTimeout = 30 * time.Minute
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 4 * time.Hour
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if log == nil {
		log = slog.Default()
	}

	r := &Reconciler{
		store:       s,
		activations: activations,
		executor:    executor,
		config:      config,
		logger:      log,
		tracer:      otel.Tracer("sceneplane/worker"),
		now:         time.Now,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs a pass immediately and then one per interval until ctx is cancelled.
// A pass in flight when ctx ends is allowed to finish.
func (r *Reconciler) Run(ctx context.Context) error {
	defer close(r.done)

	r.logger.Info("reconciler starting",
		"interval", r.config.Interval,
		"activation_timeout", r.config.ActivationTimeout,
		"job_timeout", r.config.JobTimeout,
		"concurrency", r.config.Concurrency)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// Done returns a channel that is closed when Run has returned.
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

func (r *Reconciler) tick(ctx context.Context) {
	// Detached so that shutdown lets the current pass finish its writes.
	passCtx := context.WithoutCancel(ctx)
	if _, err := r.RunOnce(passCtx); err != nil && !errors.Is(err, ErrPassInFlight) {
		r.logger.Error("reconciliation pass failed", "error", err)
	}
}

// RunOnce advances every outstanding job by at most one step. It returns
// ErrPassInFlight without doing anything when another pass is running.
func (r *Reconciler) RunOnce(ctx context.Context) (PassStats, error) {
	if !r.running.TryLock() {
		r.metrics.Pass(ctx, "skipped", 0)
		return PassStats{}, ErrPassInFlight
	}
	defer r.running.Unlock()

	if r.locker != nil {
		release, ok, err := r.locker.TryLockPass(ctx)
		if err != nil {
			r.metrics.Pass(ctx, "error", 0)
			return PassStats{}, err
		}
		if !ok {
			r.metrics.Pass(ctx, "skipped", 0)
			return PassStats{}, fmt.Errorf("%w: held by another worker", ErrPassInFlight)
		}
		defer release()
	}

	start := r.now()
	ctx, span := r.tracer.Start(ctx, "reconcile.pass")
	defer span.End()

	outstanding, err := r.store.ListOutstandingJobs(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		r.metrics.Pass(ctx, "error", r.now().Sub(start))
		return PassStats{}, fmt.Errorf("list outstanding jobs: %w", err)
	}

	var (
		mu    sync.Mutex
		stats = PassStats{Outstanding: len(outstanding)}
	)

	g := new(errgroup.Group)
	g.SetLimit(r.config.Concurrency)
	for i := range outstanding {
		job := outstanding[i]
		g.Go(func() error {
			changed, failed := r.reconcileJob(ctx, &job)
			mu.Lock()
			if changed {
				stats.Advanced++
			}
			if failed {
				stats.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("reconcile.outstanding", stats.Outstanding),
		attribute.Int("reconcile.advanced", stats.Advanced),
	)
	r.metrics.Pass(ctx, "ok", r.now().Sub(start))
	r.logger.Debug("reconciliation pass complete",
		"outstanding", stats.Outstanding, "advanced", stats.Advanced, "failed", stats.Failed)
	return stats, nil
}

// reconcileJob advances one job. changed reports a persisted transition,
// failed a terminal ERROR or CANCELLED.
func (r *Reconciler) reconcileJob(ctx context.Context, job *store.Job) (changed, failed bool) {
	ctx = logger.WithJobID(ctx, job.ID.String())
	log := logger.FromContext(ctx, r.logger)

	ctx, span := r.tracer.Start(ctx, "reconcile.job", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.status", string(job.Status)),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while reconciling job, leaving it for the next pass", "status", job.Status, "panic", p)
			span.SetStatus(codes.Error, "panic")
			changed, failed = false, false
		}
	}()

	var next store.JobStatus
	var err error
	if job.Status == store.JobStatusActivating {
		next, err = r.advanceActivating(ctx, log, job)
	} else {
		next, err = r.advanceRemote(ctx, log, job)
	}

	switch {
	case errors.Is(err, store.ErrStaleStatus):
		log.Info("job changed underneath the pass, skipping", "status", job.Status)
		return false, false
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		log.Error("failed to persist job transition", "status", job.Status, "next", next, "error", err)
		return false, false
	case next == "" || next == job.Status:
		return false, false
	}

	span.SetAttributes(attribute.String("job.next_status", string(next)))
	r.metrics.Transition(ctx, string(next))
	log.Info("job advanced", "from", job.Status, "to", next)
	return true, next == store.JobStatusError || next == store.JobStatusCancelled
}

func (r *Reconciler) advanceActivating(ctx context.Context, log *slog.Logger, job *store.Job) (store.JobStatus, error) {
	if elapsed := r.now().Sub(job.CreatedAt); elapsed > r.config.ActivationTimeout {
		r.activations.Forget(job.ID)
		msg := fmt.Sprintf("scene %s was not activated within %v", job.SceneID, r.config.ActivationTimeout)
		return r.fail(ctx, job, store.JobStatusError, store.StepActivation, msg)
	}

	sc, err := r.activations.CheckActivation(ctx, job)
	switch {
	case err != nil && jobs.IsActivationFailure(err):
		r.activations.Forget(job.ID)
		return r.fail(ctx, job, store.JobStatusError, store.StepActivation, err.Error())
	case err != nil:
		log.Warn("scene activation check failed, will retry", "scene_id", job.SceneID, "error", err)
		return "", nil
	case sc == nil:
		return "", nil
	}

	remoteID, err := r.activations.SubmitDeferred(ctx, job, sc)
	if err != nil {
		if jobs.IsPermanentSubmitError(err) {
			r.activations.Forget(job.ID)
			return r.fail(ctx, job, store.JobStatusError, store.StepSubmission, err.Error())
		}
		log.Warn("deferred submission failed, will retry", "scene_id", job.SceneID, "error", err)
		return "", nil
	}

	if err := r.store.MarkSubmitted(ctx, job.ID, remoteID); err != nil {
		log.Error("remote job submitted but not recorded", "remote_job_id", remoteID, "error", err)
		return store.JobStatusSubmitted, err
	}
	r.activations.Forget(job.ID)
	return store.JobStatusSubmitted, nil
}

func (r *Reconciler) advanceRemote(ctx context.Context, log *slog.Logger, job *store.Job) (store.JobStatus, error) {
	if job.RemoteJobID == nil || *job.RemoteJobID == "" {
		return r.fail(ctx, job, store.JobStatusError, store.StepSubmission, "job has no remote job id")
	}

	st, err := r.executor.Status(ctx, *job.RemoteJobID)
	if err != nil {
		if elapsed := r.now().Sub(job.CreatedAt); elapsed > r.config.JobTimeout {
			msg := fmt.Sprintf("remote job %s unreachable after %v: %v", *job.RemoteJobID, r.config.JobTimeout, err)
			return r.fail(ctx, job, store.JobStatusError, store.StepStatus, msg)
		}
		log.Warn("remote status query failed, will retry", "remote_job_id", *job.RemoteJobID, "error", err)
		return "", nil
	}

	switch st.Status {
	case execution.StatusPending:
		return "", nil
	case execution.StatusRunning:
		if job.Status == store.JobStatusRunning {
			return "", nil
		}
		return store.JobStatusRunning, r.store.UpdateStatus(ctx, job.ID, job.Status, store.JobStatusRunning)
	case execution.StatusSuccess:
		return r.ingest(ctx, log, job, st)
	case execution.StatusCancelled:
		return r.fail(ctx, job, store.JobStatusCancelled, store.StepStatus, remoteMessage(st))
	default:
		return r.fail(ctx, job, store.JobStatusError, store.StepStatus, remoteMessage(st))
	}
}

func (r *Reconciler) fail(ctx context.Context, job *store.Job, status store.JobStatus, step, message string) (store.JobStatus, error) {
	logger.FromContext(ctx, r.logger).Warn("job failed", "status", status, "step", step, "reason", message)
	return status, r.store.FailJob(ctx, job.ID, status, step, message)
}

func remoteMessage(st *execution.JobStatus) string {
	if st.ErrorMessage != "" {
		return st.ErrorMessage
	}
	return fmt.Sprintf("remote job %s reported %s", st.ID, st.Status)
}
