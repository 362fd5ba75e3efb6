package async

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerGB = 1024 * 1024 * 1024

// SystemMetrics is host memory plus job counts, served on the metrics surface
type SystemMetrics struct {
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	JobsQueued    int     `json:"jobs_queued"`
	JobsRunning   int     `json:"jobs_running"`
	JobsFinished  int     `json:"jobs_finished"`
	JobsFailed    int     `json:"jobs_failed"`
}

// getMemoryStats returns total and available memory in bytes
func getMemoryStats(ctx context.Context) (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return v.Total, v.Available, nil
}

// GetSystemMetrics returns current host memory and job counts. A failed
// memory read leaves the memory fields zero; a failed count is returned.
func (q *Queue) GetSystemMetrics(ctx context.Context) (SystemMetrics, error) {
	var m SystemMetrics

	if total, available, err := getMemoryStats(ctx); err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / bytesPerGB
		m.MemoryUsedGB = float64(total-available) / bytesPerGB
		m.MemoryPercent = (m.MemoryUsedGB / m.MemoryTotalGB) * 100
	}

	stats, err := q.GetStats(ctx)
	if err != nil {
		return m, err
	}
	m.JobsQueued = stats.Queued
	m.JobsRunning = stats.Running
	m.JobsFinished = stats.Finished
	m.JobsFailed = stats.Failed
	return m, nil
}
