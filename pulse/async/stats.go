package async

import (
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidget/logger"
)

// DiskUsager sums the bytes held by job output
type DiskUsager interface {
	DiskUsage() (int64, error)
}

// Stats is a point-in-time view of the service
type Stats struct {
	Total          int               `json:"total"`
	ByStatus       map[JobStatus]int `json:"by_status"`
	ActiveCount    int               `json:"active_count"`
	DiskUsageBytes int64             `json:"disk_usage_bytes"`
	MaxConcurrent  int               `json:"max_concurrent"`
	System         *SystemMetrics    `json:"system,omitempty"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

// StatsAggregator computes Stats on demand. Nothing is cached.
type StatsAggregator struct {
	registry     *Registry
	disk         DiskUsager
	admission    *AdmissionController
	pool         *WorkerPool
	downloadsDir string
	logger       *zap.SugaredLogger
}

// NewStatsAggregator creates an aggregator. admission and pool are optional.
func NewStatsAggregator(registry *Registry, disk DiskUsager, admission *AdmissionController, pool *WorkerPool, downloadsDir string, log *zap.SugaredLogger) *StatsAggregator {
	return &StatsAggregator{
		registry:     registry,
		disk:         disk,
		admission:    admission,
		pool:         pool,
		downloadsDir: downloadsDir,
		logger:       log,
	}
}

// Snapshot counts jobs under one registry read lock and then sums disk
// usage outside it.
func (s *StatsAggregator) Snapshot(includeSystem bool) Stats {
	counts := s.registry.Counts()

	stats := Stats{
		Total:       counts.Total,
		ByStatus:    counts.ByStatus,
		ActiveCount: counts.Active,
		GeneratedAt: time.Now(),
	}

	if s.disk != nil {
		usage, err := s.disk.DiskUsage()
		if err != nil {
			s.logger.Warnw("Failed to compute disk usage", logger.FieldError, err)
		}
		stats.DiskUsageBytes = usage
	}
	if s.admission != nil {
		stats.MaxConcurrent = s.admission.MaxConcurrent()
	}
	if includeSystem && s.pool != nil {
		metrics := s.pool.GetSystemMetrics(s.downloadsDir)
		stats.System = &metrics
	}
	return stats
}
