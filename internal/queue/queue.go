package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/obs/logger"
)

// ErrEmpty is returned by Lease when no task is currently pending.
var ErrEmpty = errors.New("queue: no task pending")

// ErrNotFound is returned when an operation references a taskId the
// queue has no record of.
var ErrNotFound = errors.New("queue: task not found")

// Queue is a Redis-backed FIFO with exactly-once-in-flight leasing. A
// taskId lives in exactly one of the pending list, the retry set, the
// processing set, or the dead-letter list at any time (spec.md §4.9
// invariant).
type Queue struct {
	rdb              *redis.Client
	taskTimeout      time.Duration
	maxRetryAttempts int
	baseBackoff      time.Duration
	maxBackoff       time.Duration
	log              *logger.Logger
}

// Config bundles Queue's tuning knobs, mirroring config.QueueConfig so
// callers don't need to import the config package directly.
type Config struct {
	TaskTimeout      time.Duration
	MaxRetryAttempts int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
}

// New builds a Queue over an already-connected redis.Client.
func New(rdb *redis.Client, cfg Config) *Queue {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	return &Queue{
		rdb:              rdb,
		taskTimeout:      cfg.TaskTimeout,
		maxRetryAttempts: cfg.MaxRetryAttempts,
		baseBackoff:      cfg.BaseBackoff,
		maxBackoff:       cfg.MaxBackoff,
		log:              logger.With("queue"),
	}
}

// Enqueue admits a new task: it becomes visible to Lease immediately.
// The task record and its appearance in the pending list are written in
// one MULTI/EXEC transaction so a concurrent Lease can never observe one
// without the other. taskID, when empty, is generated; callers that need
// a stable external handle (the Job Control API's taskId=jobId contract)
// pass payload.JobID through as taskID.
func (q *Queue) Enqueue(ctx context.Context, taskID string, payload domain.TaskPayload) (*domain.Task, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	now := time.Now().UTC()
	task := &domain.Task{
		TaskID:    taskID,
		Payload:   payload,
		CreatedAt: now,
		Status:    domain.TaskStatusPending,
	}

	raw, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal task: %w", err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(task.TaskID), raw, 0)
		pipe.RPush(ctx, keyPending, task.TaskID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	q.log.Info("task enqueued", "taskId", task.TaskID, "jobId", payload.JobID)
	return task, nil
}

// Lease pops the oldest pending task and marks it processing with a
// visibility deadline of now+taskTimeout. Once popped from the pending
// list no other worker can observe the same taskId, so the follow-up
// bookkeeping writes need no further locking.
func (q *Queue) Lease(ctx context.Context, workerID string) (*domain.Task, error) {
	taskID, err := q.rdb.LPop(ctx, keyPending).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue: lease pop: %w", err)
	}

	task, err := q.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	deadline := now.Add(q.taskTimeout)
	task.Status = domain.TaskStatusProcessing
	task.StartedAt = &now
	task.Attempts++
	task.VisibilityDeadline = &deadline

	if err := q.saveTask(ctx, task); err != nil {
		return nil, err
	}
	if err := q.rdb.ZAdd(ctx, keyProcessing, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: task.TaskID,
	}).Err(); err != nil {
		return nil, fmt.Errorf("queue: lease zadd: %w", err)
	}

	q.log.Info("task leased", "taskId", task.TaskID, "workerId", workerID, "attempt", task.Attempts)
	return task, nil
}

// Heartbeat extends a leased task's visibility deadline, signaling the
// worker is still alive and making progress.
func (q *Queue) Heartbeat(ctx context.Context, taskID string) error {
	task, err := q.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusProcessing {
		return fmt.Errorf("queue: heartbeat on non-processing task %s (status=%s)", taskID, task.Status)
	}

	deadline := time.Now().UTC().Add(q.taskTimeout)
	task.VisibilityDeadline = &deadline
	if err := q.saveTask(ctx, task); err != nil {
		return err
	}
	return q.rdb.ZAdd(ctx, keyProcessing, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: taskID,
	}).Err()
}

// Ack marks a task completed and removes it from the processing set.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	task.Status = domain.TaskStatusCompleted
	task.CompletedAt = &now
	task.VisibilityDeadline = nil

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		raw, merr := json.Marshal(task)
		if merr != nil {
			return merr
		}
		pipe.Set(ctx, taskKey(taskID), raw, 0)
		pipe.ZRem(ctx, keyProcessing, taskID)
		pipe.Del(ctx, cancelKey(taskID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	q.log.Info("task acked", "taskId", taskID)
	return nil
}

// Fail records a processing failure. Retryable failures within the
// attempt budget are scheduled for a backoff-delayed retry; everything
// else is dead-lettered.
func (q *Queue) Fail(ctx context.Context, taskID string, cause error, retryable bool) error {
	task, err := q.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	msg := cause.Error()
	task.LastError = &msg

	if retryable && task.Attempts < q.maxRetryAttempts {
		return q.scheduleRetry(ctx, task)
	}
	return q.deadLetter(ctx, task, domain.TaskStatusFailed)
}

func (q *Queue) scheduleRetry(ctx context.Context, task *domain.Task) error {
	delay := backoff(task.Attempts, q.baseBackoff, q.maxBackoff)
	readyAt := time.Now().UTC().Add(delay)
	task.Status = domain.TaskStatusPending
	task.VisibilityDeadline = nil

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		raw, merr := json.Marshal(task)
		if merr != nil {
			return merr
		}
		pipe.Set(ctx, taskKey(task.TaskID), raw, 0)
		pipe.ZRem(ctx, keyProcessing, task.TaskID)
		pipe.ZAdd(ctx, keyRetry, redis.Z{Score: float64(readyAt.UnixMilli()), Member: task.TaskID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: schedule retry: %w", err)
	}
	q.log.Warn("task scheduled for retry", "taskId", task.TaskID, "attempt", task.Attempts, "delay", delay.String())
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, task *domain.Task, status domain.TaskStatus) error {
	task.Status = status
	task.VisibilityDeadline = nil

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		raw, merr := json.Marshal(task)
		if merr != nil {
			return merr
		}
		pipe.Set(ctx, taskKey(task.TaskID), raw, 0)
		pipe.ZRem(ctx, keyProcessing, task.TaskID)
		pipe.ZRem(ctx, keyRetry, task.TaskID)
		pipe.RPush(ctx, keyDLQ, task.TaskID)
		pipe.Del(ctx, cancelKey(task.TaskID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: dead-letter: %w", err)
	}
	q.log.Error("task dead-lettered", "taskId", task.TaskID, "status", string(status), "attempts", task.Attempts)
	return nil
}

// ReclaimExpired sweeps the processing set for visibility deadlines that
// have passed (a worker died or stalled without heartbeating) and the
// retry set for delays that have elapsed, promoting or dead-lettering as
// appropriate. It is meant to be called periodically from a background
// goroutine (DefaultReclaimInterval), mirroring the stuck-item recovery
// sweep pattern used elsewhere in this codebase's worker pools.
func (q *Queue) ReclaimExpired(ctx context.Context) (reclaimed, deadLettered, promoted int, err error) {
	now := time.Now().UTC()

	expired, err := q.rdb.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("queue: reclaim scan: %w", err)
	}
	for _, taskID := range expired {
		task, terr := q.loadTask(ctx, taskID)
		if terr != nil {
			q.log.Warn("reclaim: task record missing, dropping", "taskId", taskID)
			q.rdb.ZRem(ctx, keyProcessing, taskID)
			continue
		}
		timeoutErr := fmt.Errorf("visibility deadline exceeded")
		if task.Attempts < q.maxRetryAttempts {
			task.LastError = strPtr(timeoutErr.Error())
			if serr := q.scheduleRetry(ctx, task); serr != nil {
				return reclaimed, deadLettered, promoted, serr
			}
			reclaimed++
		} else {
			task.LastError = strPtr(timeoutErr.Error())
			if derr := q.deadLetter(ctx, task, domain.TaskStatusTimeout); derr != nil {
				return reclaimed, deadLettered, promoted, derr
			}
			deadLettered++
		}
	}

	ready, err := q.rdb.ZRangeByScore(ctx, keyRetry, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return reclaimed, deadLettered, promoted, fmt.Errorf("queue: retry scan: %w", err)
	}
	for _, taskID := range ready {
		_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, keyRetry, taskID)
			pipe.RPush(ctx, keyPending, taskID)
			return nil
		})
		if err != nil {
			return reclaimed, deadLettered, promoted, fmt.Errorf("queue: promote retry: %w", err)
		}
		promoted++
	}

	if reclaimed+deadLettered+promoted > 0 {
		q.log.Info("reclaim sweep complete", "reclaimed", reclaimed, "deadLettered", deadLettered, "promoted", promoted)
	}
	return reclaimed, deadLettered, promoted, nil
}

// RunReclaimLoop runs ReclaimExpired on a ticker until ctx is canceled.
func (q *Queue) RunReclaimLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReclaimInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, _, err := q.ReclaimExpired(ctx); err != nil {
				q.log.Error("reclaim sweep failed", "error", err.Error())
			}
		}
	}
}

// RequestCancel marks taskID for cancellation. It is a side-channel flag
// rather than a queue-state transition, so it works whether the task is
// still pending or already leased by a worker in a different process
// (the embedded cmd/server consumer or a standalone cmd/worker): the
// leasing worker's cancellation watcher (Consumer.watchCancellation, a
// goroutine beside its heartbeat loop) polls IsCancelled and cancels its own
// processing context once it observes the flag. The flag expires with
// taskTimeout so a stale one can never outlive the task it named.
func (q *Queue) RequestCancel(ctx context.Context, taskID string) error {
	if err := q.rdb.Set(ctx, cancelKey(taskID), "1", q.taskTimeout).Err(); err != nil {
		return fmt.Errorf("queue: request cancel %s: %w", taskID, err)
	}
	q.log.Info("task cancellation requested", "taskId", taskID)
	return nil
}

// IsCancelled reports whether taskID has a pending cancellation request.
func (q *Queue) IsCancelled(ctx context.Context, taskID string) (bool, error) {
	_, err := q.rdb.Get(ctx, cancelKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue: check cancel %s: %w", taskID, err)
	}
	return true, nil
}

// Status returns the current record for taskID, or ErrNotFound.
func (q *Queue) Status(ctx context.Context, taskID string) (*domain.Task, error) {
	return q.loadTask(ctx, taskID)
}

// DepthPending, DepthProcessing, DepthDLQ report queue lengths for
// operational visibility.
func (q *Queue) DepthPending(ctx context.Context) (int64, error) { return q.rdb.LLen(ctx, keyPending).Result() }
func (q *Queue) DepthProcessing(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, keyProcessing).Result()
}
func (q *Queue) DepthDLQ(ctx context.Context) (int64, error) { return q.rdb.LLen(ctx, keyDLQ).Result() }

func (q *Queue) loadTask(ctx context.Context, taskID string) (*domain.Task, error) {
	raw, err := q.rdb.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue: load task %s: %w", taskID, err)
	}
	var task domain.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("queue: decode task %s: %w", taskID, err)
	}
	return &task, nil
}

func (q *Queue) saveTask(ctx context.Context, task *domain.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: encode task %s: %w", task.TaskID, err)
	}
	if err := q.rdb.Set(ctx, taskKey(task.TaskID), raw, 0).Err(); err != nil {
		return fmt.Errorf("queue: save task %s: %w", task.TaskID, err)
	}
	return nil
}

func strPtr(s string) *string { return &s }
