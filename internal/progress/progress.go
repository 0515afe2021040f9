// Package progress implements the Progress Tracker (spec.md §4.7):
// per-job progress state, a fixed-cadence CPU/RSS metrics sampler, and
// the terminal PerformanceReport.
package progress

import (
	"runtime"
	"sync"
	"time"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

// SampleInterval is the metrics sampler cadence (spec.md §4.7 "default 1
// Hz").
const SampleInterval = 1 * time.Second

type jobState struct {
	mu sync.Mutex

	jobID       string
	totalRows   int
	phase       domain.Phase
	startedAt   time.Time
	mode        domain.ProcessingMode
	workerCount int

	processed      int
	workerProgress map[int]int
	completedAt    *time.Time

	throughputWindow []throughputSample
	samples          []metricSample

	stopSampler chan struct{}
	samplerDone chan struct{}
}

type throughputSample struct {
	at    time.Time
	count int
}

type metricSample struct {
	cpu        float64
	memoryMB   float64
	throughput float64
	at         time.Time
}

// Tracker holds live progress state for every active job.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*jobState
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		jobs: make(map[string]*jobState),
	}
}

// Start begins tracking jobID in the initializing phase. totalRows of 0
// means unknown; it may be set later via SetTotalRows once a header scan
// completes. mode and workerCount are fixed for the job's lifetime, set
// once here rather than read back from shared Tracker state, so Metrics/
// Report never need to acquire the Tracker lock while already holding
// the job's own lock.
func (t *Tracker) Start(jobID string, totalRows int, mode domain.ProcessingMode, workerCount int) {
	js := &jobState{
		jobID:          jobID,
		totalRows:      totalRows,
		phase:          domain.PhaseInitializing,
		startedAt:      time.Now(),
		mode:           mode,
		workerCount:    workerCount,
		workerProgress: make(map[int]int),
		stopSampler:    make(chan struct{}),
		samplerDone:    make(chan struct{}),
	}

	t.mu.Lock()
	t.jobs[jobID] = js
	t.mu.Unlock()

	go t.sample(js)
}

// SetTotalRows records the total row count once known (e.g. after the
// header/row-count scan completes).
func (t *Tracker) SetTotalRows(jobID string, totalRows int) {
	js := t.get(jobID)
	if js == nil {
		return
	}
	js.mu.Lock()
	js.totalRows = totalRows
	js.mu.Unlock()
}

// SetPhase transitions jobID to phase. Terminal phases stop the sampler
// and freeze the final report window.
func (t *Tracker) SetPhase(jobID string, phase domain.Phase) {
	js := t.get(jobID)
	if js == nil {
		return
	}
	js.mu.Lock()
	js.phase = phase
	terminal := phase == domain.PhaseCompleted || phase == domain.PhaseFailed
	if terminal {
		now := time.Now()
		js.completedAt = &now
	}
	js.mu.Unlock()

	if terminal {
		close(js.stopSampler)
		<-js.samplerDone
	}
}

// GC removes terminal job state older than ttl, bounding memory for a
// long-running server process the same way Upload Progress Tracker's GC
// bounds its own map (spec.md §4.8's pattern, reused here since §4.7
// doesn't itself specify a retention window).
func (t *Tracker) GC(now time.Time, ttl time.Duration) {
	t.mu.Lock()
	jobs := make([]*jobState, 0, len(t.jobs))
	for _, js := range t.jobs {
		jobs = append(jobs, js)
	}
	t.mu.Unlock()

	var stale []string
	for _, js := range jobs {
		js.mu.Lock()
		completedAt := js.completedAt
		js.mu.Unlock()
		if completedAt != nil && now.Sub(*completedAt) > ttl {
			stale = append(stale, js.jobID)
		}
	}

	if len(stale) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, jobID := range stale {
		delete(t.jobs, jobID)
	}
}

// IncProcessed adds n to the processed-row counter for workerID's shard.
func (t *Tracker) IncProcessed(jobID string, n int, workerID int) {
	js := t.get(jobID)
	if js == nil {
		return
	}
	js.mu.Lock()
	js.processed += n
	js.workerProgress[workerID] += n
	now := time.Now()
	js.throughputWindow = append(js.throughputWindow, throughputSample{at: now, count: js.processed})
	js.throughputWindow = trimWindow(js.throughputWindow, now, 30*time.Second)
	js.mu.Unlock()
}

// Snapshot returns the current Progress for jobID.
func (t *Tracker) Snapshot(jobID string) domain.Progress {
	js := t.get(jobID)
	if js == nil {
		return domain.Progress{JobID: jobID}
	}
	js.mu.Lock()
	defer js.mu.Unlock()

	var overall float64
	if js.totalRows > 0 {
		overall = float64(js.processed) / float64(js.totalRows) * 100
	}

	workers := make([]domain.WorkerProgress, 0, len(js.workerProgress))
	for id, n := range js.workerProgress {
		workers = append(workers, domain.WorkerProgress{WorkerID: id, Processed: n})
	}

	startedAt := js.startedAt
	var eta *float64
	if throughput := movingAverageThroughput(js.throughputWindow); throughput > 0 && js.totalRows > 0 {
		remaining := float64(js.totalRows-js.processed) / throughput
		if remaining < 0 {
			remaining = 0
		}
		eta = &remaining
	}

	return domain.Progress{
		JobID:                  jobID,
		OverallProgress:        overall,
		ProcessedRows:          js.processed,
		TotalRows:              js.totalRows,
		CurrentPhase:           js.phase,
		WorkerProgress:         workers,
		EstimatedTimeRemaining: eta,
		LastUpdated:            time.Now(),
		StartedAt:              &startedAt,
	}
}

// Metrics returns the most recent sampled Metrics for jobID.
func (t *Tracker) Metrics(jobID string) domain.Metrics {
	js := t.get(jobID)
	if js == nil {
		return domain.Metrics{JobID: jobID}
	}
	js.mu.Lock()
	defer js.mu.Unlock()

	if len(js.samples) == 0 {
		return domain.Metrics{JobID: jobID, Timestamp: time.Now()}
	}
	latest := js.samples[len(js.samples)-1]
	return domain.Metrics{
		JobID:         jobID,
		CPUUsage:      latest.cpu,
		MemoryUsageMB: latest.memoryMB,
		Throughput:    latest.throughput,
		WorkerCount:   js.workerCount,
		Timestamp:     latest.at,
		IsProcessing:  js.phase != domain.PhaseCompleted && js.phase != domain.PhaseFailed,
	}
}

// Report produces the terminal PerformanceReport from the sampler window
// (spec.md §4.7 "Final PerformanceReport is produced at terminal
// transition from the sampler window").
func (t *Tracker) Report(jobID string, successCount, errorCount int) domain.PerformanceReport {
	js := t.get(jobID)
	if js == nil {
		return domain.PerformanceReport{JobID: jobID}
	}
	js.mu.Lock()
	defer js.mu.Unlock()

	var avgCPU, peakCPU, avgMem, peakMem, avgTP, peakTP float64
	for _, s := range js.samples {
		avgCPU += s.cpu
		avgMem += s.memoryMB
		avgTP += s.throughput
		if s.cpu > peakCPU {
			peakCPU = s.cpu
		}
		if s.memoryMB > peakMem {
			peakMem = s.memoryMB
		}
		if s.throughput > peakTP {
			peakTP = s.throughput
		}
	}
	if n := len(js.samples); n > 0 {
		avgCPU /= float64(n)
		avgMem /= float64(n)
		avgTP /= float64(n)
	}

	end := time.Now()
	if js.completedAt != nil {
		end = *js.completedAt
	}

	return domain.PerformanceReport{
		JobID:            jobID,
		ProcessingMode:   js.mode,
		WorkerCount:      js.workerCount,
		AvgCPU:           avgCPU,
		PeakCPU:          peakCPU,
		AvgMemoryMB:      avgMem,
		PeakMemoryMB:     peakMem,
		AvgThroughput:    avgTP,
		PeakThroughput:   peakTP,
		ProcessingTimeMs: end.Sub(js.startedAt).Milliseconds(),
		TotalRows:        js.totalRows,
		SuccessCount:     successCount,
		ErrorCount:       errorCount,
	}
}

// Forget releases jobID's in-memory state. Callers should call this after
// the terminal report has been read and persisted.
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, jobID)
}

func (t *Tracker) get(jobID string) *jobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobs[jobID]
}

func (t *Tracker) sample(js *jobState) {
	defer close(js.samplerDone)
	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-js.stopSampler:
			return
		case now := <-ticker.C:
			cpu := sampleCPUPercent()
			mem := sampleRSSMegabytes()

			js.mu.Lock()
			tp := movingAverageThroughput(trimWindow(js.throughputWindow, now, 30*time.Second))
			js.samples = append(js.samples, metricSample{cpu: cpu, memoryMB: mem, throughput: tp, at: now})
			js.mu.Unlock()
		}
	}
}

func trimWindow(window []throughputSample, now time.Time, horizon time.Duration) []throughputSample {
	cutoff := now.Add(-horizon)
	i := 0
	for i < len(window) && window[i].at.Before(cutoff) {
		i++
	}
	return window[i:]
}

func movingAverageThroughput(window []throughputSample) float64 {
	if len(window) < 2 {
		return 0
	}
	first, last := window[0], window[len(window)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.count-first.count) / elapsed
}

func sampleRSSMegabytes() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Sys) / (1024 * 1024)
}
