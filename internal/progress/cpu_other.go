//go:build !linux

package progress

// sampleCPUPercent has no portable implementation outside Linux's
// /proc/self/stat; it degrades to 0 rather than pulling in a
// process-metrics dependency not present anywhere in the examples.
func sampleCPUPercent() float64 { return 0 }
