// Package jobs implements the Task Producer and Task Consumer (spec.md
// §4.10): turning an accepted upload into a queued Task, and the worker
// loop that leases, processes, and finalizes one Task at a time.
package jobs

import (
	"context"
	"fmt"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/obs/logger"
	"github.com/silencealoe/data-clean-tool/internal/queue"
)

// Producer turns an already-persisted upload (an on-disk file plus its
// FileRecord row) into a queued Task.
type Producer struct {
	q   *queue.Queue
	log *logger.Logger
}

// NewProducer creates a Producer bound to q.
func NewProducer(q *queue.Queue) *Producer {
	return &Producer{q: q, log: logger.With("jobs.producer")}
}

// Submit enqueues a new Task for the given file, returning the queued
// Task. Its TaskID is set equal to jobID, matching the Job Control API's
// `taskId=jobId` response contract (spec.md §6).
func (p *Producer) Submit(ctx context.Context, jobID, fileID, filePath, fileName string, fileType domain.FileType) (*domain.Task, error) {
	payload := domain.TaskPayload{
		JobID:    jobID,
		FileID:   fileID,
		FilePath: filePath,
		FileName: fileName,
		FileType: fileType,
	}
	task, err := p.q.Enqueue(ctx, jobID, payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: submit job %s: %w", jobID, err)
	}
	p.log.Info("job submitted", "jobId", jobID, "taskId", task.TaskID, "fileName", fileName)
	return task, nil
}
