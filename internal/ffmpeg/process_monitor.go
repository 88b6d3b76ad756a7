package ffmpeg

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats contains resource usage statistics for an encoder process.
type ProcessStats struct {
	PID int32 `json:"pid"`

	CPUPercent     float64 `json:"cpu_percent"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
	MemoryPercent  float32 `json:"memory_percent"`

	// Output bandwidth, tracked via AddBytesWritten.
	BytesWritten  uint64  `json:"bytes_written"`
	WriteRateBps  float64 `json:"write_rate_bps"`
	WriteRateMbps float64 `json:"write_rate_mbps"`

	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	LastUpdated time.Time     `json:"last_updated"`
}

// ProcessMonitor samples resource usage of an encoder process.
type ProcessMonitor struct {
	proc      *process.Process
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	bytesWritten     atomic.Uint64
	lastBytesWritten uint64
	lastBytesCheck   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for the given PID.
func NewProcessMonitor(pid int32) (*ProcessMonitor, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessMonitor{
		proc:      proc,
		startedAt: time.Now(),
		interval:  time.Second,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetInterval sets the sampling interval. Call before Start.
func (pm *ProcessMonitor) SetInterval(d time.Duration) {
	pm.mu.Lock()
	pm.interval = d
	pm.mu.Unlock()
}

// Start begins sampling the process.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	pm.lastBytesCheck = time.Now()
	interval := pm.interval
	pm.mu.Unlock()

	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		pm.sample()
		for {
			select {
			case <-pm.ctx.Done():
				return
			case <-ticker.C:
				pm.sample()
			}
		}
	}()
}

// Stop stops sampling.
func (pm *ProcessMonitor) Stop() {
	pm.cancel()
	pm.wg.Wait()
}

// Stats returns the current process statistics.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := pm.stats
	stats.BytesWritten = pm.bytesWritten.Load()
	return stats
}

// AddBytesWritten adds to the output byte counter.
func (pm *ProcessMonitor) AddBytesWritten(n uint64) {
	pm.bytesWritten.Add(n)
}

// sample takes a snapshot of process statistics.
func (pm *ProcessMonitor) sample() {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.PID = pm.proc.Pid
	pm.stats.StartedAt = pm.startedAt
	pm.stats.Duration = now.Sub(pm.startedAt)
	pm.stats.LastUpdated = now

	// Failures here mean the process exited; keep the last good sample.
	if cpu, err := pm.proc.CPUPercent(); err == nil {
		pm.stats.CPUPercent = cpu
	}
	if mem, err := pm.proc.MemoryInfo(); err == nil && mem != nil {
		pm.stats.MemoryRSSBytes = mem.RSS
	}
	if pct, err := pm.proc.MemoryPercent(); err == nil {
		pm.stats.MemoryPercent = pct
	}

	currentBytes := pm.bytesWritten.Load()
	if elapsed := now.Sub(pm.lastBytesCheck); elapsed > 0 {
		delta := currentBytes - pm.lastBytesWritten
		pm.stats.WriteRateBps = float64(delta) / elapsed.Seconds()
		pm.stats.WriteRateMbps = pm.stats.WriteRateBps * 8 / 1_000_000
	}
	pm.stats.BytesWritten = currentBytes
	pm.lastBytesWritten = currentBytes
	pm.lastBytesCheck = now
}
