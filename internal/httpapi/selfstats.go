package httpapi

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// processStats samples the collector's own CPU/memory footprint, the way
// cmd/agent's collectMetrics samples a monitored process via gopsutil.
func processStats() ProcessStats {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ProcessStats{}
	}

	cpuPct, _ := proc.CPUPercent()
	numThreads, _ := proc.NumThreads()

	stats := ProcessStats{CPUPercent: cpuPct, NumThreads: int(numThreads)}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		stats.MemRSSMB = float64(memInfo.RSS) / (1024 * 1024)
	}
	return stats
}
