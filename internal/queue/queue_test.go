package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

func newTestQueue(t *testing.T, cfg Config) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, cfg), mr
}

func testPayload() domain.TaskPayload {
	return domain.TaskPayload{
		JobID:    "job-1",
		FileID:   "file-1",
		FilePath: "/tmp/file-1.csv",
		FileName: "file-1.csv",
		FileType: domain.FileTypeCSV,
	}
}

func TestEnqueueLeaseAck(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{})

	task, err := q.Enqueue(ctx, "", testPayload())
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, task.Status)

	leased, err := q.Lease(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, task.TaskID, leased.TaskID)
	assert.Equal(t, domain.TaskStatusProcessing, leased.Status)
	assert.Equal(t, 1, leased.Attempts)
	require.NotNil(t, leased.VisibilityDeadline)

	depth, err := q.DepthProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	require.NoError(t, q.Ack(ctx, leased.TaskID))

	final, err := q.Status(ctx, leased.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)

	depth, err = q.DepthProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestLeaseOnEmptyQueueReturnsErrEmpty(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{})

	_, err := q.Lease(ctx, "worker-1")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestFailRetryableReschedulesWithBackoff(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{MaxRetryAttempts: 3, BaseBackoff: 20 * time.Millisecond, MaxBackoff: 200 * time.Millisecond})

	task, err := q.Enqueue(ctx, "", testPayload())
	require.NoError(t, err)
	leased, err := q.Lease(ctx, "worker-1")
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, leased.TaskID, errors.New("transient"), true))

	status, err := q.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, status.Status)

	// not yet ready: still within backoff window
	_, err = q.Lease(ctx, "worker-2")
	assert.ErrorIs(t, err, ErrEmpty)

	time.Sleep(40 * time.Millisecond)
	_, _, promoted, err := q.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	relLeased, err := q.Lease(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, task.TaskID, relLeased.TaskID)
	assert.Equal(t, 2, relLeased.Attempts)
}

func TestFailExhaustedAttemptsDeadLetters(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{MaxRetryAttempts: 1})

	task, err := q.Enqueue(ctx, "", testPayload())
	require.NoError(t, err)
	leased, err := q.Lease(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, 1, leased.Attempts)

	require.NoError(t, q.Fail(ctx, leased.TaskID, errors.New("bad data"), true))

	status, err := q.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, status.Status)

	depth, err := q.DepthDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestFailNonRetryableDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{MaxRetryAttempts: 5})

	task, err := q.Enqueue(ctx, "", testPayload())
	require.NoError(t, err)
	leased, err := q.Lease(ctx, "worker-1")
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, leased.TaskID, errors.New("corrupt file"), false))

	status, err := q.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, status.Status)
}

func TestReclaimExpiredRequeuesStuckTask(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{TaskTimeout: 20 * time.Millisecond, MaxRetryAttempts: 3})

	task, err := q.Enqueue(ctx, "", testPayload())
	require.NoError(t, err)
	_, err = q.Lease(ctx, "worker-1")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	reclaimed, deadLettered, _, err := q.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, 0, deadLettered)

	status, err := q.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, status.Status)
}

func TestReclaimExpiredDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{TaskTimeout: 20 * time.Millisecond, MaxRetryAttempts: 1})

	task, err := q.Enqueue(ctx, "", testPayload())
	require.NoError(t, err)
	_, err = q.Lease(ctx, "worker-1")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, deadLettered, _, err := q.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deadLettered)

	status, err := q.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusTimeout, status.Status)
}

func TestHeartbeatExtendsVisibilityDeadline(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{TaskTimeout: time.Minute})

	_, err := q.Enqueue(ctx, "", testPayload())
	require.NoError(t, err)
	leased, err := q.Lease(ctx, "worker-1")
	require.NoError(t, err)
	firstDeadline := *leased.VisibilityDeadline

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, q.Heartbeat(ctx, leased.TaskID))

	status, err := q.Status(ctx, leased.TaskID)
	require.NoError(t, err)
	require.NotNil(t, status.VisibilityDeadline)
	assert.True(t, status.VisibilityDeadline.After(firstDeadline))
}

func TestTaskNeverInTwoPlacesAtOnce(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{MaxRetryAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	task, err := q.Enqueue(ctx, "", testPayload())
	require.NoError(t, err)

	pendingLen, _ := q.DepthPending(ctx)
	assert.Equal(t, int64(1), pendingLen)

	leased, err := q.Lease(ctx, "worker-1")
	require.NoError(t, err)

	pendingLen, _ = q.DepthPending(ctx)
	processingLen, _ := q.DepthProcessing(ctx)
	assert.Equal(t, int64(0), pendingLen)
	assert.Equal(t, int64(1), processingLen)

	require.NoError(t, q.Fail(ctx, leased.TaskID, errors.New("x"), true))

	processingLen, _ = q.DepthProcessing(ctx)
	assert.Equal(t, int64(0), processingLen)

	_ = task
}

func TestRequestCancelIsObservableThenClearedOnAck(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{})

	task, err := q.Enqueue(ctx, "", testPayload())
	require.NoError(t, err)

	cancelled, err := q.IsCancelled(ctx, task.TaskID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, q.RequestCancel(ctx, task.TaskID))

	cancelled, err = q.IsCancelled(ctx, task.TaskID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	leased, err := q.Lease(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, leased.TaskID))

	cancelled, err = q.IsCancelled(ctx, task.TaskID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}
