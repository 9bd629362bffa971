package async

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/logger"
)

// progressLogInterval throttles debug logging of progress reports
const progressLogInterval = 5 * time.Second

var errNotDownloading = errors.New("job is not downloading")

// ProgressEmitter implements ProgressReporter for one job. Each report
// overwrites the job's progress through the registry's update path.
type ProgressEmitter struct {
	registry *Registry
	jobID    string
	log      *zap.SugaredLogger

	mu         sync.Mutex
	lastLogged time.Time
	lastStage  string
}

// NewProgressEmitter creates a progress emitter for a downloading job
func NewProgressEmitter(registry *Registry, jobID string, baseLogger *zap.SugaredLogger) *ProgressEmitter {
	return &ProgressEmitter{
		registry: registry,
		jobID:    jobID,
		log:      baseLogger.With(logger.FieldJobID, jobID),
	}
}

// Report stores p. Reports that arrive once the job has left downloading
// are dropped.
func (e *ProgressEmitter) Report(p Progress) {
	if math.IsNaN(p.Percent) {
		p.Percent = 0
	}
	p.Percent = math.Max(0, math.Min(100, p.Percent))

	_, err := e.registry.Update(e.jobID, func(j *Job) error {
		if j.Status != JobStatusDownloading {
			return errNotDownloading
		}
		j.Progress = &p
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNotDownloading) {
			e.log.Warnw("Failed to record progress", logger.FieldError, err)
		}
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if p.Stage == e.lastStage && time.Since(e.lastLogged) < progressLogInterval {
		return
	}
	e.lastStage = p.Stage
	e.lastLogged = time.Now()
	e.log.Debugw("Download progress",
		logger.FieldPercent, p.Percent,
		logger.FieldStage, p.Stage,
		"speed", p.Speed,
		"eta", p.ETA)
}
