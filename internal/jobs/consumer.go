package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/silencealoe/data-clean-tool/internal/apierr"
	"github.com/silencealoe/data-clean-tool/internal/config"
	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/ingest/parser"
	"github.com/silencealoe/data-clean-tool/internal/ingest/processor"
	"github.com/silencealoe/data-clean-tool/internal/obs/logger"
	"github.com/silencealoe/data-clean-tool/internal/persist"
	"github.com/silencealoe/data-clean-tool/internal/progress"
	"github.com/silencealoe/data-clean-tool/internal/queue"
	"github.com/silencealoe/data-clean-tool/internal/rules/engine"
	"github.com/silencealoe/data-clean-tool/internal/rules/store"
)

// DefaultPollInterval is how long Consumer.Run waits before re-attempting
// Lease after finding the queue empty.
const DefaultPollInterval = 2 * time.Second

// ConsumerOptions bundles everything a Consumer needs to run the full
// lease -> parse -> process -> persist -> finalize pipeline.
type ConsumerOptions struct {
	Queue             *queue.Queue
	Store             *store.Store
	Engine            *engine.Engine
	Persister         *persist.Persister
	Tracker           *progress.Tracker
	Processor         config.ProcessorConfig
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	WorkerID          string
}

// Consumer is one worker's lease/process/ack loop over the Work Queue.
type Consumer struct {
	queue             *queue.Queue
	store             *store.Store
	engine            *engine.Engine
	persister         *persist.Persister
	tracker           *progress.Tracker
	processorCfg      config.ProcessorConfig
	heartbeatInterval time.Duration
	pollInterval      time.Duration
	workerID          string
	log               *logger.Logger
}

// NewConsumer builds a Consumer from opts, applying defaults for the
// polling and heartbeat intervals when unset.
func NewConsumer(opts ConsumerOptions) *Consumer {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	workerID := opts.WorkerID
	if workerID == "" {
		workerID = "worker-1"
	}
	return &Consumer{
		queue:             opts.Queue,
		store:             opts.Store,
		engine:            opts.Engine,
		persister:         opts.Persister,
		tracker:           opts.Tracker,
		processorCfg:      opts.Processor,
		heartbeatInterval: opts.HeartbeatInterval,
		pollInterval:      pollInterval,
		workerID:          workerID,
		log:               logger.With("jobs.consumer"),
	}
}

// Run leases and processes tasks until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := c.ProcessNext(ctx)
		if err != nil {
			c.log.Error("lease failed", "error", err.Error())
		}
		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.pollInterval):
			}
		}
	}
}

// ProcessNext leases a single task and runs it to completion (ack, fail,
// or dead-letter). It returns (false, nil) when the queue is currently
// empty, which callers use to back off before trying again.
func (c *Consumer) ProcessNext(ctx context.Context) (bool, error) {
	task, err := c.queue.Lease(ctx, c.workerID)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.process(ctx, task)
	return true, nil
}

func (c *Consumer) process(ctx context.Context, task *domain.Task) {
	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var loopWG sync.WaitGroup
	loopWG.Add(2)
	go func() {
		defer loopWG.Done()
		c.heartbeatLoop(hbCtx, task.TaskID)
	}()
	go func() {
		defer loopWG.Done()
		c.watchCancellation(hbCtx, task.TaskID, cancelTask)
	}()

	runErr := c.runTask(taskCtx, task)

	stopHeartbeat()
	loopWG.Wait()

	ackCtx := context.Background()
	if runErr != nil {
		retryable := queue.IsRetryable(runErr)
		c.log.Warn("task failed", "taskId", task.TaskID, "jobId", task.Payload.JobID, "retryable", retryable, "error", runErr.Error())
		if err := c.queue.Fail(ackCtx, task.TaskID, runErr, retryable); err != nil {
			c.log.Error("failed to record task failure", "taskId", task.TaskID, "error", err.Error())
		}
		if updated, serr := c.queue.Status(ackCtx, task.TaskID); serr == nil &&
			(updated.Status == domain.TaskStatusFailed || updated.Status == domain.TaskStatusTimeout) {
			if err := c.persister.MarkFailed(ackCtx, task.Payload.JobID, runErr.Error()); err != nil {
				c.log.Error("failed to mark file record failed", "jobId", task.Payload.JobID, "error", err.Error())
			}
		}
		return
	}
	if err := c.queue.Ack(ackCtx, task.TaskID); err != nil {
		c.log.Error("failed to ack task", "taskId", task.TaskID, "error", err.Error())
	}
}

// watchCancellation polls the Work Queue's side-channel cancel flag
// (spec.md §4.11 DELETE /cancel/{jobId}) on the same cadence as Run's
// lease backoff, and cancels the task's own context the first time it
// observes the flag set — the Parallel Processor already stops accepting
// new batches once its ctx is done (spec.md §4.5), so this is the only
// hook a cross-process cancel request needs.
func (c *Consumer) watchCancellation(ctx context.Context, taskID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelled, err := c.queue.IsCancelled(context.Background(), taskID)
			if err != nil {
				c.log.Warn("cancellation check failed", "taskId", taskID, "error", err.Error())
				continue
			}
			if cancelled {
				cancel()
				return
			}
		}
	}
}

func (c *Consumer) heartbeatLoop(ctx context.Context, taskID string) {
	interval := c.heartbeatInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.queue.Heartbeat(context.Background(), taskID); err != nil {
				c.log.Warn("heartbeat failed", "taskId", taskID, "error", err.Error())
			}
		}
	}
}

// runTask drives one task through parse -> process -> persist -> finalize,
// reporting progress throughout. A non-nil return is passed to
// queue.Fail/IsRetryable to decide between a retry and dead-lettering.
func (c *Consumer) runTask(ctx context.Context, task *domain.Task) error {
	jobID := task.Payload.JobID

	cfg := c.store.Get()
	if cfg == nil {
		return apierr.New(apierr.CodeInvalidConfiguration, "no active rule configuration")
	}

	if err := c.persister.MarkProcessing(ctx, jobID); err != nil {
		c.log.Warn("failed to mark file record processing", "jobId", jobID, "error", err.Error())
	}

	mode := domain.ModeSequential
	if cfg.GlobalSettings.ParallelProcessing {
		mode = domain.ModeParallel
	}

	// A header/row-count pre-scan seeds an accurate totalRows and
	// workerCount before the first byte is actually processed; a failed
	// or unsupported peek degrades to the same "unknown total" state
	// Start always used to report, rather than aborting the job (Parse
	// below performs its own, authoritative validation).
	totalRows := 0
	if peeked, perr := parser.Peek(task.Payload.FilePath, task.Payload.FileType); perr == nil {
		totalRows = peeked.TotalRows
	}
	procOpts := processor.Options{
		BatchSize:                   c.processorCfg.BatchSize,
		ParallelProcessingThreshold: c.processorCfg.ParallelProcessingThreshold,
		MaxConcurrentWorkers:        c.processorCfg.MaxConcurrentWorkers,
		MaxProcessingTime:           c.processorCfg.MaxProcessingTime,
		TotalRows:                   totalRows,
	}
	workerCount := processor.WorkerCount(cfg, procOpts)

	c.tracker.Start(jobID, totalRows, mode, workerCount)
	c.tracker.SetPhase(jobID, domain.PhaseParsing)

	result, err := parser.Parse(task.Payload.FilePath, task.Payload.FileType)
	if err != nil {
		c.tracker.SetPhase(jobID, domain.PhaseFailed)
		return err
	}

	c.tracker.SetPhase(jobID, domain.PhaseCleaning)
	out := processor.Run(ctx, result.Rows, c.engine, cfg, procOpts)

	var persistErr error
	var mu sync.Mutex
	recordErr := func(err error) {
		mu.Lock()
		if persistErr == nil {
			persistErr = err
		}
		mu.Unlock()
	}

	c.tracker.SetPhase(jobID, domain.PhaseSavingBatch)
	var drainWG sync.WaitGroup
	drainWG.Add(2)
	go func() {
		defer drainWG.Done()
		for batch := range out.Clean {
			if err := c.persister.PersistClean(ctx, jobID, batch.Outcomes); err != nil {
				recordErr(err)
			}
			c.tracker.IncProcessed(jobID, len(batch.Outcomes), batch.WorkerID)
		}
	}()
	go func() {
		defer drainWG.Done()
		for batch := range out.Exceptions {
			if err := c.persister.PersistException(ctx, jobID, batch.Outcomes); err != nil {
				recordErr(err)
			}
			c.tracker.IncProcessed(jobID, len(batch.Outcomes), batch.WorkerID)
		}
	}()
	drainWG.Wait()

	if ctx.Err() != nil {
		c.tracker.SetPhase(jobID, domain.PhaseFailed)
		return apierr.New(apierr.CodeCancelled, "job was cancelled")
	}

	select {
	case <-out.Failed:
		c.tracker.SetPhase(jobID, domain.PhaseFailed)
		return apierr.New(apierr.CodeValidationFailed, "row error count exceeded the configured maximum")
	default:
	}

	if result.Err != nil {
		c.tracker.SetPhase(jobID, domain.PhaseFailed)
		return result.Err
	}
	if persistErr != nil {
		c.tracker.SetPhase(jobID, domain.PhaseFailed)
		return persistErr
	}

	// If the pre-scan undercounted or failed outright (totalRows stayed
	// 0), fall back to the actual processed count so the terminal report
	// never claims 0 total rows for a job that plainly processed some.
	if totalRows == 0 {
		c.tracker.SetTotalRows(jobID, int(out.Counters.Processed))
	}

	c.tracker.SetPhase(jobID, domain.PhaseFinalizing)
	c.tracker.SetPhase(jobID, domain.PhaseCompleted)
	report := c.tracker.Report(jobID, int(out.Counters.Clean), int(out.Counters.Exception))
	if err := c.persister.Finalize(ctx, jobID,
		int(out.Counters.Processed), int(out.Counters.Clean), int(out.Counters.Exception),
		report.ProcessingTimeMs, domain.FileStatusCompleted,
	); err != nil {
		return err
	}

	// Tracker state for jobID is deliberately kept (not Forget'd) past
	// completion so GET /report/{jobId} can still read the terminal
	// PerformanceReport; the Tracker.GC tickers in cmd/server and
	// cmd/worker evict old job state, the same way Upload Progress
	// Tracker entries are evicted.
	return nil
}
