package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

func TestTracker_SnapshotReflectsProgress(t *testing.T) {
	tr := New()
	tr.Start("job-1", 1000, domain.ModeParallel, 4)
	tr.SetPhase("job-1", domain.PhaseCleaning)
	tr.IncProcessed("job-1", 100, 0)
	tr.IncProcessed("job-1", 50, 1)

	snap := tr.Snapshot("job-1")
	assert.Equal(t, "job-1", snap.JobID)
	assert.Equal(t, 150, snap.ProcessedRows)
	assert.Equal(t, 1000, snap.TotalRows)
	assert.InDelta(t, 15.0, snap.OverallProgress, 0.01)
	assert.Equal(t, domain.PhaseCleaning, snap.CurrentPhase)
	assert.Len(t, snap.WorkerProgress, 2)

	tr.SetPhase("job-1", domain.PhaseCompleted)
}

func TestTracker_ReportAggregatesSamples(t *testing.T) {
	tr := New()
	tr.Start("job-2", 100, domain.ModeSequential, 1)
	tr.IncProcessed("job-2", 100, 0)

	time.Sleep(10 * time.Millisecond)
	tr.SetPhase("job-2", domain.PhaseCompleted)

	report := tr.Report("job-2", 90, 10)
	assert.Equal(t, "job-2", report.JobID)
	assert.Equal(t, domain.ModeSequential, report.ProcessingMode)
	assert.Equal(t, 90, report.SuccessCount)
	assert.Equal(t, 10, report.ErrorCount)
	assert.Equal(t, 100, report.TotalRows)
}

func TestTracker_UnknownJobReturnsZeroValue(t *testing.T) {
	tr := New()
	snap := tr.Snapshot("missing")
	assert.Equal(t, "missing", snap.JobID)
	assert.Zero(t, snap.ProcessedRows)
}

func TestTracker_ForgetRemovesState(t *testing.T) {
	tr := New()
	tr.Start("job-3", 10, domain.ModeSequential, 1)
	tr.SetPhase("job-3", domain.PhaseCompleted)
	tr.Forget("job-3")

	snap := tr.Snapshot("job-3")
	require.Equal(t, 0, snap.TotalRows)
}

func TestMovingAverageThroughput(t *testing.T) {
	now := time.Now()
	window := []throughputSample{
		{at: now, count: 0},
		{at: now.Add(5 * time.Second), count: 500},
	}
	assert.InDelta(t, 100.0, movingAverageThroughput(window), 0.01)
}
