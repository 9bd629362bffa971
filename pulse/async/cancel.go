package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/logger"
)

// Causes attached to a job context when it is cancelled. The worker pool
// reads them back with context.Cause to pick the cancel reason.
var (
	errCancelRequested = errors.New("cancel requested")
	errJobTimeout      = errors.New("job timed out")
	errShutdown        = errors.New("worker pool shutting down")
)

// cancelReasonFor maps a context cause to the recorded reason. A parent
// context cancelled without a cause counts as shutdown.
func cancelReasonFor(cause error) CancelReason {
	switch {
	case errors.Is(cause, errJobTimeout), errors.Is(cause, context.DeadlineExceeded):
		return CancelReasonTimeout
	case errors.Is(cause, errCancelRequested):
		return CancelReasonRequested
	default:
		return CancelReasonShutdown
	}
}

// Canceller raises cancel requests and signals in-flight executions.
//
// It only sets cancel_requested; the worker pool owns the transition to
// cancelled for every job.
type Canceller struct {
	registry *Registry
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	inflight map[string]context.CancelCauseFunc
	onQueued func() // asks the pool to finalize queued cancels
}

// NewCanceller creates a canceller over registry
func NewCanceller(registry *Registry, log *zap.SugaredLogger) *Canceller {
	return &Canceller{
		registry: registry,
		logger:   logger.AddPulseSymbol(log),
		inflight: make(map[string]context.CancelCauseFunc),
	}
}

func (c *Canceller) setQueuedHook(fn func()) {
	c.mu.Lock()
	c.onQueued = fn
	c.mu.Unlock()
}

// RequestCancel marks the job for cancellation. A terminal job, or one
// already asked to cancel, yields a conflict, so among concurrent callers
// exactly one succeeds.
func (c *Canceller) RequestCancel(id string) (*Job, error) {
	job, err := c.registry.Update(id, func(j *Job) error {
		if j.Status.IsTerminal() {
			return errors.NewConflictError("job %s is already %s", j.ID, j.Status)
		}
		if j.CancelRequested {
			return errors.NewConflictError("cancellation of job %s already requested", j.ID)
		}
		j.CancelRequested = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	cancel := c.inflight[id]
	onQueued := c.onQueued
	c.mu.Unlock()

	switch {
	case cancel != nil:
		cancel(errCancelRequested)
	case job.Status == JobStatusQueued && onQueued != nil:
		onQueued()
	}

	c.logger.Infow("Cancellation requested",
		logger.FieldJobID, id,
		logger.FieldStatus, job.Status)
	return job, nil
}

// inFlight reports whether an execution context is registered for id
func (c *Canceller) inFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[id]
	return ok
}

// track derives the execution context for a job and registers its cancel
// function. A cancel flag raised before registration is honoured here, so
// a request that lands between claim and track is never lost. release
// must be called once execution ends.
func (c *Canceller) track(parent context.Context, id string, timeout time.Duration) (ctx context.Context, release func()) {
	base, cancel := context.WithCancelCause(parent)
	ctx = base
	stopTimer := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, stopTimer = context.WithTimeoutCause(base, timeout, errJobTimeout)
	}

	c.mu.Lock()
	c.inflight[id] = cancel
	c.mu.Unlock()

	if job, err := c.registry.Get(id); err == nil && job.CancelRequested {
		cancel(errCancelRequested)
	}

	return ctx, func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
		stopTimer()
		cancel(nil)
	}
}
