// Package schedule runs vidget's periodic background work: the cleanup
// sweep that expires old job output.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidget/am"
	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/files"
	"github.com/teranos/vidget/logger"
	"github.com/teranos/vidget/pulse/async"
)

// OutputStore is the part of the file manager the sweep needs
type OutputStore interface {
	Purge(jobID string) error
	ListDirs() ([]files.DirInfo, error)
}

// Sweeper periodically removes the output of terminal jobs older than
// MaxAge, drops their records, and clears orphan directories left by
// earlier processes.
type Sweeper struct {
	registry   *async.Registry
	store      OutputStore
	workerPool *async.WorkerPool // For system metrics in sweep logs
	interval   time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.SugaredLogger
	sweepLog   *zap.SugaredLogger // Logger with sweep symbol pre-attached

	mu               sync.Mutex
	maxAge           time.Duration
	includeFailed    bool
	includeCancelled bool
	lastSweepAt      time.Time
	sweepsSinceStart int64
	lastActiveWork   int
}

// SweeperConfig contains configuration for the cleanup sweep
type SweeperConfig struct {
	Interval         time.Duration // How often the sweep runs
	MaxAge           time.Duration // Terminal jobs older than this are swept
	IncludeFailed    bool
	IncludeCancelled bool
}

// DefaultSweeperConfig returns sensible defaults
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:         time.Hour,
		MaxAge:           24 * time.Hour,
		IncludeFailed:    true,
		IncludeCancelled: true,
	}
}

// SweeperConfigFrom derives the sweep settings from loaded config
func SweeperConfigFrom(cfg *am.Config) SweeperConfig {
	sc := DefaultSweeperConfig()
	if cfg == nil {
		return sc
	}
	if d := cfg.SweepInterval(); d > 0 {
		sc.Interval = d
	}
	if d := cfg.SweepMaxAge(); d > 0 {
		sc.MaxAge = d
	}
	sc.IncludeFailed = cfg.Cleanup.IncludeFailed
	sc.IncludeCancelled = cfg.Cleanup.IncludeCancelled
	return sc
}

// SweepResult summarises one sweep
type SweepResult struct {
	Jobs    int           `json:"jobs"`    // terminal jobs whose output and record were removed
	Orphans int           `json:"orphans"` // directories with no record
	Errors  int           `json:"errors"`
	Cutoff  time.Time     `json:"cutoff"`
	Took    time.Duration `json:"took"`
}

// NewSweeper creates a sweeper bound to ctx. workerPool may be nil.
func NewSweeper(ctx context.Context, registry *async.Registry, store OutputStore, workerPool *async.WorkerPool, cfg SweeperConfig, log *zap.SugaredLogger) *Sweeper {
	sweepCtx, cancel := context.WithCancel(ctx)
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweeperConfig().Interval
	}

	return &Sweeper{
		registry:         registry,
		store:            store,
		workerPool:       workerPool,
		interval:         cfg.Interval,
		ctx:              sweepCtx,
		cancel:           cancel,
		logger:           log,
		sweepLog:         logger.AddSweepSymbol(log),
		maxAge:           cfg.MaxAge,
		includeFailed:    cfg.IncludeFailed,
		includeCancelled: cfg.IncludeCancelled,
	}
}

// Start begins the sweep loop
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	s.sweepLog.Infow("Cleanup sweep started", "interval", s.interval, "max_age", s.MaxAge())
}

// Stop gracefully stops the sweeper
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.sweepLog.Infow("Cleanup sweep stopped")
}

// SetMaxAge changes the age threshold for the next sweep
func (s *Sweeper) SetMaxAge(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d != s.maxAge {
		s.sweepLog.Infow("Cleanup max age changed", "old", s.maxAge, "new", d)
		s.maxAge = d
	}
}

// MaxAge returns the current age threshold
func (s *Sweeper) MaxAge() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxAge
}

// run is the main sweep loop
func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case tickTime := <-ticker.C:
			s.mu.Lock()
			s.lastSweepAt = tickTime
			s.sweepsSinceStart++
			n := s.sweepsSinceStart
			s.mu.Unlock()

			s.logActivity()

			if _, err := s.Sweep(tickTime); err != nil {
				// Don't spam logs - log errors at warn level
				s.sweepLog.Warnw("Cleanup sweep error", logger.FieldError, err, "sweep", n)
			}
		}
	}
}

// logActivity logs the active download count when it changed since the last sweep
func (s *Sweeper) logActivity() {
	counts := s.registry.Counts()

	s.mu.Lock()
	hasChanged := counts.Active != s.lastActiveWork
	s.lastActiveWork = counts.Active
	s.mu.Unlock()

	if !hasChanged {
		return
	}

	// One pulse symbol per five active downloads, capped at 12
	indicator := ""
	if counts.Active > 0 {
		n := min(counts.Active/5+1, 12)
		indicator = strings.Repeat(logger.SymbolPulse+" ", n)
	}

	msg := fmt.Sprintf("%s%d downloads active, %d tracked", indicator, counts.Active, counts.Total)
	if s.workerPool != nil {
		metrics := s.workerPool.GetSystemMetrics("")
		msg += fmt.Sprintf(" │ Workers: %d/%d active │ Mem: %.1f/%.1fGB (%.0f%%)",
			metrics.WorkersActive, metrics.WorkersTotal,
			metrics.MemoryUsedGB, metrics.MemoryTotalGB, metrics.MemoryPercent)
	}
	s.logger.Infow(msg)
}

// Sweep removes everything older than the max age as of now. Active jobs
// and fresh terminal jobs are never touched.
func (s *Sweeper) Sweep(now time.Time) (SweepResult, error) {
	s.mu.Lock()
	maxAge, includeFailed, includeCancelled := s.maxAge, s.includeFailed, s.includeCancelled
	s.mu.Unlock()

	start := time.Now()
	result := SweepResult{Cutoff: now.Add(-maxAge)}
	var errs []error

	for _, job := range s.registry.TerminalBefore(result.Cutoff) {
		if s.ctx.Err() != nil {
			return result, s.ctx.Err()
		}
		if job.Status == async.JobStatusFailed && !includeFailed {
			continue
		}
		if job.Status == async.JobStatusCancelled && !includeCancelled {
			continue
		}

		if err := s.store.Purge(job.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.registry.Delete(job.ID); err != nil && !errors.IsNotFoundError(err) {
			errs = append(errs, err)
			continue
		}
		result.Jobs++
		s.sweepLog.Debugw("Swept job", logger.FieldJobID, job.ID, logger.FieldStatus, job.Status)
	}

	dirs, err := s.store.ListDirs()
	if err != nil {
		errs = append(errs, err)
	}
	for _, dir := range dirs {
		if s.registry.Has(dir.JobID) || !dir.ModTime.Before(result.Cutoff) {
			continue
		}
		if err := s.store.Purge(dir.JobID); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Orphans++
		s.sweepLog.Debugw("Swept orphan directory", logger.FieldJobID, dir.JobID)
	}

	result.Errors = len(errs)
	result.Took = time.Since(start)
	if result.Jobs > 0 || result.Orphans > 0 || result.Errors > 0 {
		s.sweepLog.Infow("Cleanup sweep finished",
			"jobs", result.Jobs,
			"orphans", result.Orphans,
			"errors", result.Errors,
			logger.FieldDurationMS, result.Took.Milliseconds())
	}

	if len(errs) > 0 {
		return result, errors.Wrapf(errs[0], "%d cleanup errors, first", len(errs))
	}
	return result, nil
}
