package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidget/am"
	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/logger"
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	logger.AddPulseOpenSymbol(l.SugaredLogger).Debugw(msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	logger.AddPulseCloseSymbol(l.SugaredLogger).Warnw(msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	logger.AddPulseSymbol(l.SugaredLogger).Infow(msg, keysAndValues...)
}

// OutputStore owns the per-job output directories
type OutputStore interface {
	Prepare(jobID string) (string, error)
	ListFiles(jobID string) ([]string, error)
	Purge(jobID string) error
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // Fallback poll when no wake-up arrives
	JobTimeout   time.Duration `json:"job_timeout"`   // Default per-job deadline, zero for none
	StopTimeout  time.Duration `json:"stop_timeout"`  // How long Stop waits for workers
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      am.DefaultMaxConcurrent,
		PollInterval: time.Second,
		StopTimeout:  30 * time.Second,
	}
}

// WorkerPoolConfigFrom derives the pool configuration from loaded config
func WorkerPoolConfigFrom(cfg *am.Config) WorkerPoolConfig {
	poolCfg := DefaultWorkerPoolConfig()
	if cfg == nil {
		return poolCfg
	}
	if cfg.Downloads.MaxConcurrent > 0 {
		poolCfg.Workers = cfg.Downloads.MaxConcurrent
	}
	poolCfg.JobTimeout = cfg.JobTimeout()
	return poolCfg
}

// WorkerPool runs admitted jobs through the extractor, at most Workers at a time.
type WorkerPool struct {
	registry   *Registry
	canceller  *Canceller
	extractor  Extractor
	store      OutputStore
	poolConfig WorkerPoolConfig
	workers    int
	parentCtx  context.Context
	ctx        context.Context
	cancel     context.CancelCauseFunc
	wg         sync.WaitGroup
	wake       chan struct{}
	reap       chan struct{}

	jobsProcessed int
	activeWorkers int
	startTime     time.Time
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a pool bound to ctx. Cancelling ctx stops the
// workers the same way Stop does.
func NewWorkerPool(ctx context.Context, registry *Registry, canceller *Canceller, extractor Extractor, store OutputStore, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if poolCfg.Workers < 1 {
		poolCfg.Workers = 1
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = time.Second
	}
	if poolCfg.StopTimeout <= 0 {
		poolCfg.StopTimeout = 30 * time.Second
	}

	workerCtx, cancel := context.WithCancelCause(ctx)
	wp := &WorkerPool{
		registry:   registry,
		canceller:  canceller,
		extractor:  extractor,
		store:      store,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		reap:       make(chan struct{}, 1),
		logger:     pulseLogger{log.Named("pulse")},
	}
	canceller.setQueuedHook(wp.requestReap)
	return wp
}

// Start begins processing jobs with the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancelCause(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	ctx := wp.ctx
	wp.mu.Unlock()

	wp.logger.Starting("Worker pool starting", "workers", wp.workers, "poll_interval", wp.poolConfig.PollInterval)

	wp.wg.Add(1)
	go wp.reaper(ctx)
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
	wp.Notify()
}

// Stop cancels in-flight jobs with the shutdown reason and waits for the
// workers to record their terminal state. Jobs still queued are cancelled too.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel(errShutdown)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := wp.poolConfig.StopTimeout
	select {
	case <-done:
		wp.logger.Pulse("WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be finishing", "timeout", timeout)
	}

	if dropped := wp.registry.cancelQueued(CancelReasonShutdown, false); len(dropped) > 0 {
		wp.logger.Closing("Cancelled queued downloads on shutdown", logger.FieldCount, len(dropped))
	}
}

// Notify wakes one idle worker. It never blocks.
func (wp *WorkerPool) Notify() {
	select {
	case wp.wake <- struct{}{}:
	default:
	}
}

func (wp *WorkerPool) requestReap() {
	select {
	case wp.reap <- struct{}{}:
	default:
	}
}

// reaper finalizes cancel requests for queued jobs even while every
// worker is busy downloading.
func (wp *WorkerPool) reaper(ctx context.Context) {
	defer wp.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wp.reap:
			wp.reapCancelled()
		}
	}
}

func (wp *WorkerPool) reapCancelled() {
	for _, job := range wp.registry.reapCancelled() {
		if err := wp.store.Purge(job.ID); err != nil {
			wp.logger.Warnw("Failed to purge output of cancelled job", logger.FieldJobID, job.ID, logger.FieldError, err)
		}
		wp.logger.Pulse("Queued download cancelled",
			logger.FieldJobID, job.ID,
			logger.FieldReason, job.CancelReason)
	}
}

// worker processes jobs from the registry
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-wp.wake:
		case <-ticker.C:
		}

		if err := wp.processNextJob(ctx, id); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}

			errorCount++
			wp.logger.Errorw("Worker error processing job",
				logger.FieldWorkerID, id,
				logger.FieldError, err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				wp.logger.Warnw("Worker backing off due to consecutive errors",
					logger.FieldWorkerID, id,
					"backoff", backoffDuration,
					"consecutive_errors", errorCount)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffDuration):
				}
				backoffDuration = min(backoffDuration*2, maxBackoff)
			}
			continue
		}

		if errorCount > 0 {
			wp.logger.Infow("Worker recovered from errors",
				logger.FieldWorkerID, id,
				"previous_error_count", errorCount)
		}
		errorCount = 0
		backoffDuration = time.Second
	}
}

// processNextJob claims the oldest queued job and runs it to a terminal state
func (wp *WorkerPool) processNextJob(ctx context.Context, workerID int) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	wp.reapCancelled()

	job := wp.registry.claimNext()
	if job == nil {
		return nil
	}
	// More may be waiting; hand the wake-up on to another idle worker
	wp.Notify()

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
		wp.Notify()
	}()

	wp.logger.Pulse("Download started",
		logger.FieldJobID, job.ID,
		logger.FieldWorkerID, workerID,
		logger.FieldURL, job.URL)

	return wp.execute(ctx, job)
}

// execute runs one claimed job. Every path ends in exactly one terminal
// transition recorded through the registry.
func (wp *WorkerPool) execute(parent context.Context, job *Job) error {
	timeout := wp.poolConfig.JobTimeout
	if t := job.Options.Timeout(); t > 0 {
		timeout = t
	}

	parent = logger.WithComponent(logger.WithJobID(parent, job.ID), "pulse.worker")
	ctx, release := wp.canceller.track(parent, job.ID, timeout)
	defer release()

	files, runErr := wp.run(ctx, job)
	return wp.finish(ctx, job, files, runErr)
}

// run invokes the extractor. A panic anywhere below is converted into an
// InternalFault so it fails this job only.
func (wp *WorkerPool) run(ctx context.Context, job *Job) (files []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			files, err = nil, newInternalFault(r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := wp.store.Prepare(job.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "prepare output directory for job %s", job.ID)
	}

	emitter := NewProgressEmitter(wp.registry, job.ID, logger.FromContext(ctx, wp.logger.SugaredLogger))
	reported, err := wp.extractor.Execute(ctx, ExecuteRequest{
		JobID:     job.ID,
		URL:       job.URL,
		Options:   job.Options,
		OutputDir: dir,
	}, emitter)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	listed, err := wp.store.ListFiles(job.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "list output of job %s", job.ID)
	}
	files = manifest(reported, listed)
	if len(files) == 0 {
		return nil, errors.Wrap(ErrExtraction, "extractor produced no files")
	}
	return files, nil
}

// manifest keeps the reported names that exist on disk, in reported order.
// When none of them match, everything on disk is the manifest.
func manifest(reported, listed []string) []string {
	onDisk := make(map[string]bool, len(listed))
	for _, name := range listed {
		onDisk[name] = true
	}

	var files []string
	seen := make(map[string]bool, len(reported))
	for _, name := range reported {
		if onDisk[name] && !seen[name] {
			files = append(files, name)
			seen[name] = true
		}
	}
	if len(files) == 0 {
		return append([]string(nil), listed...)
	}
	return files
}

// finish records the terminal transition. A done context wins over any
// result: the output is purged and the job is cancelled.
func (wp *WorkerPool) finish(ctx context.Context, job *Job, files []string, runErr error) error {
	log := logger.FromContext(ctx, wp.logger.SugaredLogger)
	now := time.Now()

	if ctx.Err() != nil {
		reason := cancelReasonFor(context.Cause(ctx))
		if err := wp.store.Purge(job.ID); err != nil {
			log.Warnw("Failed to remove partial output", logger.FieldError, err)
		}
		if _, err := wp.registry.Update(job.ID, func(j *Job) error {
			return j.cancel(reason, now)
		}); err != nil {
			return errors.Wrapf(err, "record cancellation of job %s", job.ID)
		}
		log.Infow("Download cancelled", logger.FieldReason, reason)
		return nil
	}

	if runErr != nil {
		kind := ClassifyError(runErr)
		if err := wp.store.Purge(job.ID); err != nil {
			log.Warnw("Failed to remove partial output", logger.FieldError, err)
		}

		var fault *InternalFault
		if errors.As(runErr, &fault) {
			log.Errorw("Internal fault while processing download",
				logger.FieldErrorKind, kind,
				logger.FieldError, fault.Value,
				"stack", string(fault.Stack))
		} else {
			log.Warnw("Download failed",
				logger.FieldErrorKind, kind,
				logger.FieldError, runErr)
		}

		if _, err := wp.registry.Update(job.ID, func(j *Job) error {
			return j.fail(failureMessage(kind, runErr), now)
		}); err != nil {
			return errors.Wrapf(err, "record failure of job %s", job.ID)
		}
		return nil
	}

	if _, err := wp.registry.Update(job.ID, func(j *Job) error {
		return j.complete(files, now)
	}); err != nil {
		return errors.Wrapf(err, "record completion of job %s", job.ID)
	}
	log.Infow("Download completed",
		logger.FieldFiles, len(files),
		logger.FieldDurationMS, now.Sub(jobStart(job, now)).Milliseconds())
	return nil
}

func jobStart(job *Job, fallback time.Time) time.Time {
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	return fallback
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// ActiveWorkers returns the number of workers currently executing a job
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeWorkers
}

// String summarises the pool for startup logs
func (wp *WorkerPool) String() string {
	return fmt.Sprintf("%d workers, poll %s, job timeout %s", wp.workers, wp.poolConfig.PollInterval, wp.poolConfig.JobTimeout)
}
