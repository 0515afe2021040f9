// Package queue implements the Work Queue (spec.md §4.9): a Redis-backed
// persistent FIFO with lease/heartbeat/ack/fail semantics and a
// dead-letter queue for tasks that exhaust their retry budget.
package queue

import "time"

// Default tuning constants (spec.md §9 Open Questions, pinned in
// DESIGN.md). Production code wires in config.Default()'s QueueConfig,
// which repeats these values; New falls back to these constants for any
// Config field left at zero.
const (
	DefaultTaskTimeout       = 30 * time.Minute
	DefaultMaxRetryAttempts  = 3
	DefaultBaseBackoff       = 1 * time.Second
	DefaultMaxBackoff        = 60 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second

	// DefaultReclaimInterval is how often ReclaimExpired should be swept
	// by a background goroutine (grounded on the jarvis recovery
	// worker's polling loop, translated to Redis).
	DefaultReclaimInterval = 30 * time.Second
)

// Redis key names. A single logical queue; multi-tenant deployments would
// prefix these, but nothing in the spec calls for more than one queue.
const (
	keyPending      = "queue:pending"
	keyProcessing   = "queue:processing"
	keyRetry        = "queue:retry"
	keyDLQ          = "queue:dlq"
	taskKeyPrefix   = "queue:task:"
	cancelKeyPrefix = "queue:cancel:"
)

func taskKey(taskID string) string {
	return taskKeyPrefix + taskID
}

func cancelKey(taskID string) string {
	return cancelKeyPrefix + taskID
}

// backoff computes the exponential retry delay for the given attempt
// count (1-indexed), capped at maxBackoff (spec.md §4.9:
// "min(BASE*2^(attempts-1), MAX_BACKOFF)").
func backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base << (attempts - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
