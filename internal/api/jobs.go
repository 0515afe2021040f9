package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/silencealoe/data-clean-tool/internal/apierr"
	"github.com/silencealoe/data-clean-tool/internal/domain"
)

// handleStatus answers GET /api/data-cleaning/status/{jobId}: the file
// record's terminal status plus the live progress snapshot.
func (a *App) handleStatus(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	rec, err := a.Reader.GetFile(c.Context(), jobID)
	if err != nil {
		return respondError(c, err)
	}

	resp := fiber.Map{
		"jobId":    jobID,
		"status":   statusForAPI(rec.Status),
		"progress": a.Tracker.Snapshot(jobID),
	}
	if rec.Status == domain.FileStatusCompleted || rec.Status == domain.FileStatusFailed {
		resp["statistics"] = statisticsFromRecord(rec)
	}
	return c.JSON(resp)
}

// handleCheckStatus answers GET /api/data-cleaning/check-status/{taskId}:
// the async task's own projection, independent of whether its FileRecord
// row has been written yet.
func (a *App) handleCheckStatus(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	task, err := a.Queue.Status(c.Context(), taskID)
	if err != nil {
		return respondError(c, apierr.Wrap(apierr.CodeTaskNotFound, "task not found", err))
	}

	progress := a.Tracker.Snapshot(task.Payload.JobID)
	resp := fiber.Map{
		"taskId":        task.TaskID,
		"status":        task.Status,
		"progress":      progress.OverallProgress,
		"processedRows": progress.ProcessedRows,
		"totalRows":     progress.TotalRows,
		"currentPhase":  progress.CurrentPhase,
		"createdAt":     task.CreatedAt,
		"startedAt":     task.StartedAt,
		"completedAt":   task.CompletedAt,
	}
	if progress.EstimatedTimeRemaining != nil {
		resp["estimatedTimeRemaining"] = *progress.EstimatedTimeRemaining
	}
	if task.LastError != nil {
		resp["errorMessage"] = *task.LastError
	}
	if task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed {
		if rec, err := a.Reader.GetFile(c.Context(), task.Payload.JobID); err == nil {
			resp["statistics"] = statisticsFromRecord(rec)
		}
	}
	return c.JSON(resp)
}

// handleCancel answers DELETE /api/data-cleaning/cancel/{jobId}: it
// requests cancellation of the job's in-flight task via the Work Queue's
// side-channel cancel flag (spec.md §4.5, §4.11), which the leasing
// Task Consumer observes and uses to cancel the Parallel Processor's
// context. A job that has already reached a terminal FileStatus can't be
// cancelled.
func (a *App) handleCancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	rec, err := a.Reader.GetFile(c.Context(), jobID)
	if err != nil {
		return respondError(c, err)
	}
	if rec.Status == domain.FileStatusCompleted || rec.Status == domain.FileStatusFailed {
		return respondError(c, apierr.New(apierr.CodeValidationFailed, "job has already reached a terminal status"))
	}
	if err := a.Queue.RequestCancel(c.Context(), jobID); err != nil {
		return respondError(c, apierr.Wrap(apierr.CodeInternalError, "failed to request cancellation", err))
	}
	return c.JSON(fiber.Map{"jobId": jobID, "status": "cancellation_requested"})
}

// handleProgress answers GET /api/data-cleaning/progress/{jobId}.
func (a *App) handleProgress(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	snap := a.Tracker.Snapshot(jobID)
	isProcessing := snap.CurrentPhase != domain.PhaseCompleted && snap.CurrentPhase != domain.PhaseFailed
	return c.JSON(fiber.Map{
		"jobId":           snap.JobID,
		"overallProgress": snap.OverallProgress,
		"processedRows":   snap.ProcessedRows,
		"totalRows":       snap.TotalRows,
		"workerProgress":  snap.WorkerProgress,
		"isProcessing":    isProcessing,
	})
}

// handleMetrics answers GET /api/data-cleaning/metrics/{jobId}.
func (a *App) handleMetrics(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	return c.JSON(a.Tracker.Metrics(jobID))
}

// handleReport answers GET /api/data-cleaning/report/{jobId}: the
// terminal PerformanceReport, reassembled from the file record's final
// counters and the tracker's retained sampler window.
func (a *App) handleReport(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	rec, err := a.Reader.GetFile(c.Context(), jobID)
	if err != nil {
		return respondError(c, err)
	}
	successCount, errorCount := 0, 0
	if rec.CleanedRows != nil {
		successCount = *rec.CleanedRows
	}
	if rec.ExceptionRows != nil {
		errorCount = *rec.ExceptionRows
	}
	return c.JSON(a.Tracker.Report(jobID, successCount, errorCount))
}

func statusForAPI(s domain.FileStatus) string {
	if s == domain.FileStatusPending {
		return string(domain.FileStatusProcessing)
	}
	return string(s)
}

func statisticsFromRecord(rec *domain.FileRecord) fiber.Map {
	return fiber.Map{
		"totalRows":        rec.TotalRows,
		"cleanedRows":      rec.CleanedRows,
		"exceptionRows":    rec.ExceptionRows,
		"processingTimeMs": rec.ProcessingTimeMs,
	}
}
