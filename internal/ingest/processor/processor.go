// Package processor implements the Parallel Processor (spec.md §4.5): a
// sharded worker pool that evaluates a row stream against the Rule
// Engine, aggregates clean rows back into ascending row-number order, and
// releases exception batches in the same batch-sequence order.
package processor

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/ingest/parser"
	"github.com/silencealoe/data-clean-tool/internal/rules/engine"
)

// Options configures one run of the processor.
type Options struct {
	BatchSize                   int
	ParallelProcessingThreshold int
	MaxConcurrentWorkers        int
	MaxProcessingTime           time.Duration
	// TotalRows, when known ahead of time (e.g. from a prior header scan),
	// decides sequential-vs-parallel mode; 0 means unknown and forces
	// parallel mode whenever parallelProcessing is enabled.
	TotalRows int
}

// Counters are updated atomically as rows are processed; safe to read
// concurrently with a run in progress.
type Counters struct {
	Processed int64
	Clean     int64
	Exception int64
}

// Batch is a contiguous group of row outcomes of the same kind, tagged
// with the worker goroutine that produced it so callers can attribute
// per-worker progress (spec.md §4.7 WorkerProgress).
type Batch struct {
	Outcomes []domain.RowOutcome
	WorkerID int
}

// Output is the product of Run: two batch streams and live counters. Both
// channels close when the input row stream is exhausted (or the run is
// cancelled/failed).
type Output struct {
	Clean      <-chan Batch
	Exceptions <-chan Batch
	Counters   *Counters
	// Failed is closed if the run transitioned to failed (error count
	// exceeded globalSettings.maxErrors); callers should treat this as a
	// fatal signal to the Task Consumer.
	Failed <-chan struct{}
}

type rowJob struct {
	seq  int
	rows []parser.Row
}

// Run evaluates every row from rows against config using eng, fanning out
// to WorkerCount(config, opts) workers (spec.md §4.5 "Model"). ctx
// cancellation stops accepting new work; in-flight batches are allowed to
// finish.
func Run(ctx context.Context, rows <-chan parser.Row, eng *engine.Engine, config *domain.RuleConfiguration, opts Options) *Output {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}

	workers := WorkerCount(config, opts)

	clean := make(chan Batch, workers*2)
	exceptions := make(chan Batch, workers*2)
	failed := make(chan struct{})
	counters := &Counters{}

	ctx, cancel := context.WithCancel(ctx)

	jobs := make(chan rowJob, workers*2)
	type seqResult struct {
		seq      int
		workerID int
		clean    []domain.RowOutcome
		excepts  []domain.RowOutcome
	}
	results := make(chan seqResult, workers*2)

	var errCount int64
	maxErrors := int64(config.GlobalSettings.MaxErrors)
	var failedOnce sync.Once

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			for job := range jobs {
				select {
				case <-ctx.Done():
					continue
				default:
				}

				var cleanOut, exceptOut []domain.RowOutcome
				for _, row := range job.rows {
					start := time.Now()
					outcome := eng.EvaluateRow(row.Number, row.Fields, config)
					if row.ParseError != nil && outcome.Clean {
						outcome.Clean = false
						outcome.OriginalData = row.Fields
						outcome.Errors = append(outcome.Errors, domain.RowError{
							Field: "_row", RuleName: "parse", ErrorMessage: row.ParseError.Error(),
						})
					}
					if opts.MaxProcessingTime > 0 && time.Since(start) > opts.MaxProcessingTime && outcome.Clean {
						outcome.Clean = false
						outcome.OriginalData = row.Fields
						outcome.Errors = append(outcome.Errors, domain.RowError{
							Field: "_row", RuleName: "processing-time",
							ErrorMessage: "row exceeded the soft per-row processing time ceiling",
						})
					}

					atomic.AddInt64(&counters.Processed, 1)
					if outcome.Clean {
						atomic.AddInt64(&counters.Clean, 1)
						cleanOut = append(cleanOut, outcome)
					} else {
						atomic.AddInt64(&counters.Exception, 1)
						exceptOut = append(exceptOut, outcome)
						if n := atomic.AddInt64(&errCount, 1); maxErrors > 0 && n > maxErrors {
							failedOnce.Do(func() {
								close(failed)
								cancel()
							})
						}
					}
				}

				results <- seqResult{seq: job.seq, workerID: workerID, clean: cleanOut, excepts: exceptOut}
			}
		}()
	}

	// Batcher: reads the row stream, forms batches, assigns sequence
	// numbers in input order for the aggregator to reorder against.
	go func() {
		defer close(jobs)
		seq := 0
		buf := make([]parser.Row, 0, opts.BatchSize)
		for {
			select {
			case <-ctx.Done():
				return
			case row, ok := <-rows:
				if !ok {
					if len(buf) > 0 {
						jobs <- rowJob{seq: seq, rows: buf}
					}
					return
				}
				buf = append(buf, row)
				if len(buf) >= opts.BatchSize {
					jobs <- rowJob{seq: seq, rows: buf}
					seq++
					buf = make([]parser.Row, 0, opts.BatchSize)
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Aggregator: clean batches must preserve ascending rowNumber in the
	// aggregated output even though workers finish out of submission
	// order, so it buffers out-of-order results and releases them only
	// once every earlier sequence number has been seen.
	go func() {
		defer close(clean)
		defer close(exceptions)

		pending := make(map[int]seqResult)
		next := 0
		for r := range results {
			pending[r.seq] = r
			for {
				res, ok := pending[next]
				if !ok {
					break
				}
				if len(res.clean) > 0 {
					sort.Slice(res.clean, func(i, j int) bool { return res.clean[i].RowNumber < res.clean[j].RowNumber })
					clean <- Batch{Outcomes: res.clean, WorkerID: res.workerID}
				}
				if len(res.excepts) > 0 {
					exceptions <- Batch{Outcomes: res.excepts, WorkerID: res.workerID}
				}
				delete(pending, next)
				next++
			}
		}
	}()

	return &Output{Clean: clean, Exceptions: exceptions, Counters: counters, Failed: failed}
}

// WorkerCount implements spec.md §4.5's sizing rule: min(maxParallelTasks,
// CPU cores) when parallel processing is enabled and the row count meets
// the threshold, otherwise 1 (sequential mode); always capped at
// MaxConcurrentWorkers. Exported so callers can seed the Progress
// Tracker's workerCount before Run itself has started (spec.md §4.7
// Metrics.WorkerCount, PerformanceReport.WorkerCount).
func WorkerCount(config *domain.RuleConfiguration, opts Options) int {
	if !config.GlobalSettings.ParallelProcessing {
		return 1
	}
	if opts.ParallelProcessingThreshold > 0 && opts.TotalRows > 0 && opts.TotalRows < opts.ParallelProcessingThreshold {
		return 1
	}

	max := config.GlobalSettings.MaxParallelTasks
	if max <= 0 {
		max = runtime.NumCPU()
	}
	workers := max
	if cores := runtime.NumCPU(); cores < workers {
		workers = cores
	}
	if opts.MaxConcurrentWorkers > 0 && workers > opts.MaxConcurrentWorkers {
		workers = opts.MaxConcurrentWorkers
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
