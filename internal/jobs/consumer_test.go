package jobs

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/persist"
	"github.com/silencealoe/data-clean-tool/internal/progress"
	"github.com/silencealoe/data-clean-tool/internal/queue"
	"github.com/silencealoe/data-clean-tool/internal/rules/engine"
	"github.com/silencealoe/data-clean-tool/internal/rules/store"
	"github.com/silencealoe/data-clean-tool/internal/rules/strategy"
)

// fakeBatchResults stands in for sqlmock, which mocks database/sql and
// can't reach pgx's native Batch interface (see internal/persist's own
// tests for the same substitution).
type fakeBatchResults struct{ n int }

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error)  { return pgconn.CommandTag{}, nil }
func (f *fakeBatchResults) Query() (pgx.Rows, error)          { return nil, nil }
func (f *fakeBatchResults) QueryRow() pgx.Row                 { return nil }
func (f *fakeBatchResults) QueryFunc(scans []interface{}, fn func(pgx.QueryFuncRow) error) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (f *fakeBatchResults) Close() error { return nil }

type fakeDB struct {
	mu          sync.Mutex
	execCalls   []string
	cleanRows   int
	exceptRows  int
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanRows += b.Len()
	return &fakeBatchResults{n: b.Len()}
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.New(rdb, queue.Config{TaskTimeout: time.Minute, MaxRetryAttempts: 3})
}

func writeCSV(t *testing.T, rows int) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "jobs-*.csv")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString("name,email\n")
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		_, err := f.WriteString("alice,alice@example.com\n")
		require.NoError(t, err)
	}
	return f.Name()
}

func newConsumer(t *testing.T, q *queue.Queue, db *fakeDB) *Consumer {
	t.Helper()
	registry := strategy.NewDefaultRegistry()
	cache := strategy.NewResultCache(time.Minute, 100)
	eng := engine.New(registry, cache)
	s := store.New(registry, "")
	require.NoError(t, s.Load())

	p := persist.New(db, 2, time.Millisecond, 5*time.Millisecond)
	tracker := progress.New()

	return NewConsumer(ConsumerOptions{
		Queue:             q,
		Store:             s,
		Engine:            eng,
		Persister:         p,
		Tracker:           tracker,
		HeartbeatInterval: 0,
		PollInterval:      10 * time.Millisecond,
		WorkerID:          "test-worker",
	})
}

func TestProcessNext_HappyPathAcksTask(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	db := &fakeDB{}
	c := newConsumer(t, q, db)

	path := writeCSV(t, 5)
	producer := NewProducer(q)
	task, err := producer.Submit(ctx, "job-1", "file-1", path, "data.csv", domain.FileTypeCSV)
	require.NoError(t, err)

	processed, err := c.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	final, err := q.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)

	assert.Equal(t, 5, db.cleanRows)
	assert.Len(t, db.execCalls, 2) // MarkProcessing, Finalize

	report := c.tracker.Report("job-1", 5, 0)
	assert.Equal(t, 5, report.TotalRows) // seeded by the header/row-count pre-scan
	assert.Equal(t, 1, report.WorkerCount)
}

func TestProcessNext_OnEmptyQueueReturnsFalse(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	c := newConsumer(t, q, &fakeDB{})

	processed, err := c.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessNext_MissingFileIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	db := &fakeDB{}
	c := newConsumer(t, q, db)

	producer := NewProducer(q)
	task, err := producer.Submit(ctx, "job-2", "file-2", "/no/such/file.csv", "missing.csv", domain.FileTypeCSV)
	require.NoError(t, err)

	processed, err := c.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	final, err := q.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, final.Status)

	depth, err := q.DepthDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	assert.Len(t, db.execCalls, 2) // MarkProcessing, MarkFailed
}

func TestWatchCancellation_ObservesAlreadySetFlag(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	c := newConsumer(t, q, &fakeDB{})
	c.pollInterval = 2 * time.Millisecond

	producer := NewProducer(q)
	task, err := producer.Submit(ctx, "job-cancel", "file-cancel", "/no/such/file.csv", "x.csv", domain.FileTypeCSV)
	require.NoError(t, err)
	require.NoError(t, q.RequestCancel(ctx, task.TaskID))

	watchCtx, stop := context.WithCancel(context.Background())
	defer stop()
	cancelled := make(chan struct{})
	go c.watchCancellation(watchCtx, task.TaskID, func() { close(cancelled) })

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("expected watchCancellation to observe the already-set cancel flag")
	}
}
