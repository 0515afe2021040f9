package progress

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// clockTicksPerSec is the kernel's USER_HZ; 100 on every Linux platform Go
// targets.
const clockTicksPerSec = 100

var cpuSamplerState = struct {
	mu        sync.Mutex
	lastUtime uint64
	lastStime uint64
	lastAt    time.Time
}{}

// sampleCPUPercent reads this process's accumulated CPU ticks from
// /proc/self/stat and returns the percentage of one core consumed since
// the previous call. No third-party process-metrics library (e.g.
// gopsutil) appears anywhere in the examples, so this reads the same
// kernel accounting fields by hand.
func sampleCPUPercent() float64 {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0
	}

	// Fields after the process name (which may contain spaces/parens) are
	// whitespace-separated starting right after the closing ')'.
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 || idx+2 >= len(data) {
		return 0
	}
	fields := strings.Fields(string(data[idx+2:]))
	// utime is field 14, stime is field 15 counting from field 1 = pid;
	// after stripping pid and comm, state (field 3) is fields[0].
	const utimeIdx, stimeIdx = 11, 12
	if len(fields) <= stimeIdx {
		return 0
	}
	utime, err1 := strconv.ParseUint(fields[utimeIdx], 10, 64)
	stime, err2 := strconv.ParseUint(fields[stimeIdx], 10, 64)
	if err1 != nil || err2 != nil {
		return 0
	}

	now := time.Now()
	cpuSamplerState.mu.Lock()
	defer cpuSamplerState.mu.Unlock()

	if cpuSamplerState.lastAt.IsZero() {
		cpuSamplerState.lastUtime, cpuSamplerState.lastStime, cpuSamplerState.lastAt = utime, stime, now
		return 0
	}

	deltaTicks := float64((utime + stime) - (cpuSamplerState.lastUtime + cpuSamplerState.lastStime))
	deltaSeconds := now.Sub(cpuSamplerState.lastAt).Seconds()
	cpuSamplerState.lastUtime, cpuSamplerState.lastStime, cpuSamplerState.lastAt = utime, stime, now

	if deltaSeconds <= 0 {
		return 0
	}
	return (deltaTicks / clockTicksPerSec) / deltaSeconds * 100
}
