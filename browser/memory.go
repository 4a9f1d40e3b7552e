package browser

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// MemorySample is one observation of process memory use.
type MemorySample struct {
	// ResidentBytes is the process RSS (browser-inclusive when Chrome
	// runs as a child of this process tree is not assumed; this tracks
	// the worker itself plus what the OS attributes to it).
	ResidentBytes uint64

	// HeapBytes is the Go heap in use.
	HeapBytes uint64
}

// memorySampler reads process RSS via gopsutil and Go heap stats, caching
// the result for a short interval so hot acquisition paths don't pay a
// procfs read each time.
type memorySampler struct {
	proc *process.Process

	mu     sync.Mutex
	last   MemorySample
	lastAt time.Time
}

const sampleMaxAge = time.Second

func newMemorySampler() *memorySampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Warn("cannot open own process for memory sampling", "error", err)
		proc = nil
	}
	return &memorySampler{proc: proc}
}

// Sample returns the most recent memory observation, refreshing it when
// older than one second.
func (m *memorySampler) Sample() MemorySample {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastAt) < sampleMaxAge && m.last.ResidentBytes > 0 {
		return m.last
	}

	var sample MemorySample

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	sample.HeapBytes = stats.HeapInuse

	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil {
			sample.ResidentBytes = info.RSS
		} else {
			slog.Debug("memory info read failed", "error", err)
		}
	}
	if sample.ResidentBytes == 0 {
		// Fall back to heap when procfs is unavailable.
		sample.ResidentBytes = stats.Sys
	}

	m.last = sample
	m.lastAt = time.Now()
	return sample
}
