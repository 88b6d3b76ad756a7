// Package services provides host-level detection for sizing the encode
// worker pool.
package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// memoryPerSlot is the working-set budget assumed per concurrent encode.
// Software H.264 encodes of 1080p sources sit well under this.
const memoryPerSlot = 1536 * 1024 * 1024

// SystemCapacity describes the host resources relevant to encode
// concurrency.
type SystemCapacity struct {
	LogicalCores     int    `json:"logical_cores"`
	TotalMemoryBytes uint64 `json:"total_memory_bytes"`

	// EncodeSlots is the derived worker pool capacity.
	EncodeSlots int `json:"encode_slots"`
}

// DetectCapacity sizes the encode worker pool. A configured value above
// zero wins; zero derives the capacity from the host: half the logical
// cores, bounded by a per-slot memory budget, never less than one.
func DetectCapacity(ctx context.Context, configured int, logger *slog.Logger) SystemCapacity {
	if logger == nil {
		logger = slog.Default()
	}

	detectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cores, err := cpu.CountsWithContext(detectCtx, true)
	if err != nil || cores < 1 {
		logger.Debug("falling back to runtime CPU count", slog.Any("error", err))
		cores = runtime.NumCPU()
	}

	var totalMem uint64
	if vm, err := mem.VirtualMemoryWithContext(detectCtx); err == nil {
		totalMem = vm.Total
	} else {
		logger.Debug("memory detection failed", slog.Any("error", err))
	}

	capacity := SystemCapacity{
		LogicalCores:     cores,
		TotalMemoryBytes: totalMem,
	}

	if configured > 0 {
		capacity.EncodeSlots = configured
		return capacity
	}

	slots := cores / 2
	if totalMem > 0 {
		memSlots := int(totalMem / memoryPerSlot)
		if memSlots < slots {
			slots = memSlots
		}
	}
	if slots < 1 {
		slots = 1
	}
	capacity.EncodeSlots = slots

	logger.Info("detected encode capacity",
		slog.Int("logical_cores", cores),
		slog.Uint64("total_memory_bytes", totalMem),
		slog.Int("encode_slots", slots),
	)
	return capacity
}
