package async

import (
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive  int     `json:"workers_active"`   // Number of workers currently executing jobs
	WorkersTotal   int     `json:"workers_total"`    // Total configured workers
	MemoryUsedGB   float64 `json:"memory_used_gb"`   // Current memory usage in GB
	MemoryTotalGB  float64 `json:"memory_total_gb"`  // Total system memory in GB
	MemoryPercent  float64 `json:"memory_percent"`   // Memory utilization percentage
	DiskFreeBytes  uint64  `json:"disk_free_bytes"`  // Free space on the downloads volume
	DiskTotalBytes uint64  `json:"disk_total_bytes"` // Size of the downloads volume
}

const bytesPerGB = 1024 * 1024 * 1024

// GetSystemMetrics returns current system resource usage. Probes that fail
// leave their fields at zero.
func (wp *WorkerPool) GetSystemMetrics(downloadsDir string) SystemMetrics {
	metrics := SystemMetrics{
		WorkersActive: wp.ActiveWorkers(),
		WorkersTotal:  wp.Workers(),
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		metrics.MemoryTotalGB = float64(vm.Total) / bytesPerGB
		metrics.MemoryUsedGB = float64(vm.Used) / bytesPerGB
		metrics.MemoryPercent = vm.UsedPercent
	}

	if downloadsDir != "" {
		if usage, err := disk.Usage(downloadsDir); err == nil {
			metrics.DiskFreeBytes = usage.Free
			metrics.DiskTotalBytes = usage.Total
		}
	}

	return metrics
}
