package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sceneplane/internal/algorithm"
	"sceneplane/internal/config"
	"sceneplane/internal/execution"
	"sceneplane/internal/scene"
	"sceneplane/internal/store"
	"sceneplane/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBroker struct {
	mu          sync.Mutex
	scenes      map[string]scene.Scene
	fetchErr    error
	activations int
	credentials []string
}

func newFakeBroker(scenes ...scene.Scene) *fakeBroker {
	b := &fakeBroker{scenes: make(map[string]scene.Scene)}
	for _, s := range scenes {
		b.scenes[s.ID] = s
	}
	return b
}

func (b *fakeBroker) Fetch(_ context.Context, sceneID, credential string, _ bool) (*scene.Scene, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credentials = append(b.credentials, credential)
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	s, ok := b.scenes[sceneID]
	if !ok {
		return nil, &scene.BrokerError{Op: "fetch", SceneID: sceneID, StatusCode: 404, Err: scene.ErrBrokerNotFound}
	}
	return &s, nil
}

func (b *fakeBroker) Activate(_ context.Context, sceneID, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activations++
	s := b.scenes[sceneID]
	if s.Status == scene.StatusInactive {
		s.Status = scene.StatusActivating
		b.scenes[sceneID] = s
	}
	return nil
}

func (b *fakeBroker) setActive(sceneID, location string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.scenes[sceneID]
	s.Status = scene.StatusActive
	s.LocationURI = location
	b.scenes[sceneID] = s
}

func (b *fakeBroker) activationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activations
}

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []execution.SubmitRequest
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, req execution.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return "remote-" + string(rune('0'+len(f.requests))), nil
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fixture struct {
	svc       *Service
	store     *storetest.Memory
	broker    *fakeBroker
	submitter *fakeSubmitter
	coord     *scene.Coordinator
	userID    uuid.UUID
}

func newFixture(t *testing.T, scenes ...scene.Scene) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := storetest.NewMemory()
	broker := newFakeBroker(scenes...)
	coord := scene.NewCoordinator(broker, scene.CoordinatorConfig{
		PollInterval: time.Millisecond,
		MaxAttempts:  1000,
		Concurrency:  4,
	}, logger)
	t.Cleanup(coord.Close)

	catalog := algorithm.NewCatalog([]config.AlgorithmConfig{
		{ID: "shoreline", Name: "Shoreline", Version: "1.2", ServiceID: "svc-shore", MaxCloudCover: 0.5, Command: "shoreline run"},
	})

	userID := uuid.New()
	require.NoError(t, mem.CreateUser(context.Background(), &store.User{
		ID:               userID,
		Name:             "analyst",
		BrokerCredential: "stored-cred",
	}, "hash"))

	sub := &fakeSubmitter{}
	return &fixture{
		svc:       NewService(mem, catalog, coord, sub, logger),
		store:     mem,
		broker:    broker,
		submitter: sub,
		coord:     coord,
		userID:    userID,
	}
}

func (f *fixture) request(sceneID string) SubmitRequest {
	return SubmitRequest{
		Name:        "coast survey",
		CreatedBy:   f.userID,
		SceneID:     sceneID,
		AlgorithmID: "shoreline",
		Credential:  "req-cred",
		Extras:      json.RawMessage(`{"threshold":0.3,"tags":["a","b"]}`),
	}
}

func activeRapidEye() scene.Scene {
	tide := 0.8
	return scene.Scene{
		ID:          "rapideye:A1",
		Platform:    scene.PlatformRapidEye,
		Status:      scene.StatusActive,
		CloudCover:  0.1,
		LocationURI: "https://imagery.example/a1.tif",
		Tide:        &tide,
	}
}

func inactiveLandsat() scene.Scene {
	return scene.Scene{
		ID:       "landsat:L1",
		Platform: scene.PlatformLandsat,
		Status:   scene.StatusInactive,
		Bands:    map[string]string{"coastal": "https://l/B1.TIF", "swir1": "https://l/B6.TIF"},
	}
}

func TestSubmit_ActiveSceneIsSubmitted(t *testing.T) {
	f := newFixture(t, activeRapidEye())
	req := f.request("rapideye:A1")
	req.ComputeMask = true

	job, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, store.JobStatusSubmitted, job.Status)
	require.NotNil(t, job.RemoteJobID)
	assert.Equal(t, "remote-1", *job.RemoteJobID)
	assert.Equal(t, "Shoreline", job.AlgorithmName)
	assert.Equal(t, "1.2", job.AlgorithmVersion)
	assert.JSONEq(t, `{"threshold":0.3,"tags":["a","b"]}`, string(job.Extras))
	require.NotNil(t, job.Tide)
	assert.InDelta(t, 0.8, *job.Tide, 1e-9)

	require.Len(t, f.submitter.requests, 1)
	sent := f.submitter.requests[0]
	assert.Equal(t, "svc-shore", sent.ServiceID)
	assert.Equal(t, []string{"shoreline", "run", "--coastmask"}, sent.Args)
	assert.Equal(t, []execution.Input{{Name: "multispectral.TIF", URL: "https://imagery.example/a1.tif"}}, sent.Inputs)

	stored, err := f.store.GetJobByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusSubmitted, stored.Status)

	cached, err := f.store.GetSceneByID(context.Background(), "rapideye:A1")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", cached.Status)

	assert.Equal(t, 0, f.broker.activationCount())
}

func TestSubmit_InactiveSceneStartsActivating(t *testing.T) {
	f := newFixture(t, inactiveLandsat())

	job, err := f.svc.Submit(context.Background(), f.request("landsat:L1"))
	require.NoError(t, err)

	assert.Equal(t, store.JobStatusActivating, job.Status)
	assert.Nil(t, job.RemoteJobID)
	assert.Equal(t, 0, f.submitter.calls())
	assert.Equal(t, 1, f.broker.activationCount())
	assert.Equal(t, 0, f.svc.Tracked(), "submission leaves polling to the reconciler")

	sc, err := f.svc.CheckActivation(context.Background(), job)
	require.NoError(t, err)
	assert.Nil(t, sc, "scene is still activating")
	assert.Equal(t, 1, f.svc.Tracked())
	f.svc.Forget(job.ID)
}

func TestSubmit_DeduplicatesOnlyAgainstSuccess(t *testing.T) {
	f := newFixture(t, activeRapidEye())
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, f.request("rapideye:A1"))
	require.NoError(t, err)

	// in flight: a second identical request is submitted again
	second, err := f.svc.Submit(ctx, f.request("rapideye:A1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, f.submitter.calls())

	require.NoError(t, f.store.CompleteJob(ctx, first.ID, nil))

	third, err := f.svc.Submit(ctx, f.request("rapideye:A1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, store.JobStatusSuccess, third.Status)
	assert.Equal(t, 2, f.submitter.calls(), "a successful duplicate must not be resubmitted")

	// a different compute mask is a different job
	masked := f.request("rapideye:A1")
	masked.ComputeMask = true
	fourth, err := f.svc.Submit(ctx, masked)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fourth.ID)
	assert.Equal(t, 3, f.submitter.calls())
}

func TestSubmit_FailedJobDoesNotBlockResubmission(t *testing.T) {
	f := newFixture(t, activeRapidEye())
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, f.request("rapideye:A1"))
	require.NoError(t, err)
	require.NoError(t, f.store.FailJob(ctx, first.ID, store.JobStatusError, store.StepStatus, "boom"))

	again, err := f.svc.Submit(ctx, f.request("rapideye:A1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
	assert.Equal(t, 2, f.submitter.calls())
}

func TestSubmit_InputErrors(t *testing.T) {
	cloudy := activeRapidEye()
	cloudy.ID = "rapideye:CLOUDY"
	cloudy.CloudCover = 0.9
	spot := scene.Scene{ID: "spot:S1", Platform: "spot", Status: scene.StatusActive}

	f := newFixture(t, activeRapidEye(), cloudy, spot)

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		want   error
	}{
		{"missing name", func(r *SubmitRequest) { r.Name = " " }, ErrInvalidRequest},
		{"missing scene", func(r *SubmitRequest) { r.SceneID = "" }, ErrInvalidRequest},
		{"bad extras", func(r *SubmitRequest) { r.Extras = json.RawMessage(`{`) }, ErrInvalidRequest},
		{"unknown algorithm", func(r *SubmitRequest) { r.AlgorithmID = "nope" }, algorithm.ErrUnknownAlgorithm},
		{"unknown scene", func(r *SubmitRequest) { r.SceneID = "rapideye:MISSING" }, scene.ErrBrokerNotFound},
		{"unsupported platform", func(r *SubmitRequest) { r.SceneID = "spot:S1" }, scene.ErrUnsupportedPlatform},
		{"too cloudy", func(r *SubmitRequest) { r.SceneID = "rapideye:CLOUDY" }, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request("rapideye:A1")
			tt.mutate(&req)

			job, err := f.svc.Submit(context.Background(), req)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, job)
		})
	}

	outstanding, err := f.svc.Outstanding(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outstanding)
	assert.Equal(t, 0, f.submitter.calls())
}

func TestSubmit_RemoteFailurePersistsNothing(t *testing.T) {
	f := newFixture(t, activeRapidEye())
	f.submitter.err = &execution.StatusError{Op: "submit", StatusCode: 503, Message: "busy"}

	job, err := f.svc.Submit(context.Background(), f.request("rapideye:A1"))
	require.ErrorIs(t, err, execution.ErrUpstream)
	assert.Nil(t, job)

	outstanding, err := f.svc.Outstanding(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outstanding)
}

func TestSubmit_BrokerUnauthorized(t *testing.T) {
	f := newFixture(t, activeRapidEye())
	f.broker.fetchErr = &scene.BrokerError{Op: "fetch", StatusCode: 401, Err: scene.ErrBrokerUnauthorized}

	_, err := f.svc.Submit(context.Background(), f.request("rapideye:A1"))
	require.ErrorIs(t, err, scene.ErrBrokerUnauthorized)
}

func TestCheckActivation_HandleResolves(t *testing.T) {
	f := newFixture(t, inactiveLandsat())
	ctx := context.Background()
	WithAwaitOnSubmit()(f.svc)

	job, err := f.svc.Submit(ctx, f.request("landsat:L1"))
	require.NoError(t, err)

	f.broker.setActive("landsat:L1", "")

	h := f.svc.handle(job.ID)
	require.NotNil(t, h)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = h.Wait(waitCtx)
	require.NoError(t, err)

	sc, err := f.svc.CheckActivation(ctx, job)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, scene.StatusActive, sc.Status)

	remoteID, err := f.svc.SubmitDeferred(ctx, job, sc)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", remoteID)
	assert.Equal(t, []execution.Input{
		{Name: "coastal.TIF", URL: "https://l/B1.TIF"},
		{Name: "swir1.TIF", URL: "https://l/B6.TIF"},
	}, f.submitter.requests[0].Inputs)

	f.svc.Forget(job.ID)
	assert.Nil(t, f.svc.handle(job.ID))
}

func TestCheckActivation_WithoutHandleUsesStoredCredential(t *testing.T) {
	f := newFixture(t, inactiveLandsat())
	ctx := context.Background()

	job := store.Job{
		ID:          uuid.New(),
		CreatedBy:   f.userID,
		SceneID:     "landsat:L1",
		AlgorithmID: "shoreline",
		Status:      store.JobStatusActivating,
		CreatedAt:   time.Now(),
	}
	f.store.PutJob(job)

	sc, err := f.svc.CheckActivation(ctx, &job)
	require.NoError(t, err)
	assert.Nil(t, sc)
	require.NotNil(t, f.svc.handle(job.ID), "a handle is tracked for the next pass")

	f.broker.mu.Lock()
	assert.Equal(t, "stored-cred", f.broker.credentials[0])
	f.broker.mu.Unlock()

	f.svc.Forget(job.ID)
	f.broker.setActive("landsat:L1", "")

	sc, err = f.svc.CheckActivation(ctx, &job)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, scene.StatusActive, sc.Status)
}

func TestCheckActivation_PermanentFailure(t *testing.T) {
	f := newFixture(t)
	job := store.Job{ID: uuid.New(), CreatedBy: f.userID, SceneID: "landsat:GONE", Status: store.JobStatusActivating}

	_, err := f.svc.CheckActivation(context.Background(), &job)
	require.Error(t, err)
	assert.True(t, IsActivationFailure(err))
}

func TestIsPermanentSubmitError(t *testing.T) {
	assert.True(t, IsPermanentSubmitError(&execution.StatusError{StatusCode: 400}))
	assert.False(t, IsPermanentSubmitError(&execution.StatusError{StatusCode: 429}))
	assert.False(t, IsPermanentSubmitError(&execution.StatusError{StatusCode: 502}))
	assert.False(t, IsPermanentSubmitError(errors.New("dial tcp: refused")))
	assert.True(t, IsPermanentSubmitError(scene.ErrUnsupportedPlatform))
	assert.True(t, IsPermanentSubmitError(algorithm.ErrUnknownAlgorithm))
}

func TestTrack_SweepsHandlesPastRetention(t *testing.T) {
	f := newFixture(t, inactiveLandsat())
	ctx := context.Background()
	WithHandleRetention(time.Hour)(f.svc)
	WithAwaitOnSubmit()(f.svc)

	now := time.Now()
	f.svc.now = func() time.Time { return now }

	old, err := f.svc.Submit(ctx, f.request("landsat:L1"))
	require.NoError(t, err)
	oldHandle := f.svc.handle(old.ID)
	require.NotNil(t, oldHandle)

	now = now.Add(2 * time.Hour)
	fresh, err := f.svc.Submit(ctx, f.request("landsat:L1"))
	require.NoError(t, err)

	assert.Nil(t, f.svc.handle(old.ID), "expired handle is dropped")
	assert.NotNil(t, f.svc.handle(fresh.ID))
	assert.Equal(t, 1, f.svc.Tracked())

	select {
	case <-oldHandle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expired handle was not cancelled")
	}
}
