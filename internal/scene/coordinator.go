package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/semaphore"
)

// Broker is the subset of the imagery broker the coordinator needs.
type Broker interface {
	Fetch(ctx context.Context, sceneID, credential string, withTides bool) (*Scene, error)
	Activate(ctx context.Context, sceneID, credential string) error
}

// CoordinatorConfig bounds activation polling.
type CoordinatorConfig struct {
	PollInterval time.Duration // Fixed delay between status polls (default: 10s)
	MaxAttempts  int           // Polls before giving up with ErrActivationTimeout (default: 180)
	Concurrency  int           // Activations awaited at the same time (default: 16)
}

// Coordinator requests scene activation and tracks it without blocking callers.
type Coordinator struct {
	broker Broker
	config CoordinatorConfig
	logger *slog.Logger
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. Close cancels every outstanding handle.
func NewCoordinator(b Broker, config CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 180
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 16
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		broker: b,
		config: config,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(config.Concurrency)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Fetch returns the current state of a scene from the broker.
func (c *Coordinator) Fetch(ctx context.Context, sceneID, credential string, withTides bool) (*Scene, error) {
	return c.broker.Fetch(ctx, sceneID, credential, withTides)
}

// Activate fires an activation request for an INACTIVE scene and returns without
// waiting for it to complete. Scenes in any other status are left alone.
func (c *Coordinator) Activate(ctx context.Context, s *Scene, credential string) error {
	if s.Status != StatusInactive {
		return nil
	}
	if err := c.broker.Activate(ctx, s.ID, credential); err != nil {
		return fmt.Errorf("activate %s: %w", s.ID, err)
	}
	return nil
}

// ActivateAndAwait starts activation of s in the background and returns at once.
// The handle resolves to the active scene, whose LocationURI locates the imagery,
// or fails with a broker error or ErrActivationTimeout.
func (c *Coordinator) ActivateAndAwait(s *Scene, credential string) *Handle {
	ctx, cancel := context.WithCancel(c.ctx)
	h := &Handle{
		sceneID: s.ID,
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	if s.Status == StatusActive {
		h.scene = s
		close(h.done)
		cancel()
		return h
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer close(h.done)

		h.scene, h.err = c.await(ctx, s, credential)
		if h.err != nil {
			c.logger.Warn("scene activation failed", "scene_id", s.ID, "error", h.err)
			return
		}
		c.logger.Info("scene active", "scene_id", s.ID)
	}()

	return h
}

var errNotActive = errors.New("scene not active yet")

func (c *Coordinator) await(ctx context.Context, s *Scene, credential string) (*Scene, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if err := c.Activate(ctx, s, credential); err != nil {
		if IsPermanent(err) {
			return nil, err
		}
		// Transient: the polling loop below requests activation again.
		c.logger.Warn("activation request failed, will retry", "scene_id", s.ID, "error", err)
	}

	var (
		active   *Scene
		attempts int
		last     = s.Status
	)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.config.PollInterval), uint64(c.config.MaxAttempts-1)),
		ctx,
	)

	op := func() error {
		attempts++
		current, err := c.broker.Fetch(ctx, s.ID, credential, false)
		if err != nil {
			if IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		if current.Status.rank() < last.rank() {
			c.logger.Warn("broker reported status regression", "scene_id", s.ID, "from", last, "to", current.Status)
		} else {
			last = current.Status
		}

		switch current.Status {
		case StatusActive:
			active = current
			return nil
		case StatusInactive:
			if err := c.broker.Activate(ctx, s.ID, credential); err != nil && IsPermanent(err) {
				return backoff.Permanent(err)
			}
		}
		return errNotActive
	}

	err := backoff.Retry(op, policy)
	switch {
	case err == nil:
		return active, nil
	case IsPermanent(err):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("scene %s: %w after %d attempts (last: %v)", s.ID, ErrActivationTimeout, attempts, err)
	}
}

// Close cancels outstanding activations and waits for their goroutines.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Handle is the pending result of ActivateAndAwait.
type Handle struct {
	sceneID string
	done    chan struct{}
	cancel  context.CancelFunc

	// written once before done is closed
	scene *Scene
	err   error
}

// SceneID returns the scene being activated.
func (h *Handle) SceneID() string {
	return h.sceneID
}

// Done is closed once the activation resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome without blocking. It reports ErrActivationPending
// until Done is closed.
func (h *Handle) Result() (*Scene, error) {
	select {
	case <-h.done:
		return h.scene, h.err
	default:
		return nil, ErrActivationPending
	}
}

// Wait blocks until the activation resolves or ctx ends.
func (h *Handle) Wait(ctx context.Context) (*Scene, error) {
	select {
	case <-h.done:
		return h.scene, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel abandons the activation.
func (h *Handle) Cancel() {
	h.cancel()
}
