package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

// fakeBatchResults implements pgx.BatchResults over a slice of canned
// per-statement errors, standing in for sqlmock (which mocks
// database/sql, not pgx's native Batch interface — not reachable here).
type fakeBatchResults struct {
	errs []error
	next int
}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if f.next >= len(f.errs) {
		return pgconn.CommandTag{}, nil
	}
	err := f.errs[f.next]
	f.next++
	return pgconn.CommandTag{}, err
}
func (f *fakeBatchResults) Query() (pgx.Rows, error)                          { return nil, nil }
func (f *fakeBatchResults) QueryRow() pgx.Row                                 { return nil }
func (f *fakeBatchResults) QueryFunc(scans []interface{}, f2 func(pgx.QueryFuncRow) error) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (f *fakeBatchResults) Close() error { return nil }

type fakeDB struct {
	mu          sync.Mutex
	execCalls   int
	batchCalls  int
	failUntil   int // SendBatch fails (returns a results object erroring once per call) for this many calls
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls++
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	n := b.Len()
	errs := make([]error, n)
	if f.batchCalls <= f.failUntil {
		for i := range errs {
			errs[i] = errors.New("simulated write failure")
		}
	}
	return &fakeBatchResults{errs: errs}
}

func outcomesWithRows(n int) []domain.RowOutcome {
	out := make([]domain.RowOutcome, n)
	for i := range out {
		out[i] = domain.RowOutcome{RowNumber: i + 1, Clean: true, Normalized: map[string]interface{}{"name": "x"}}
	}
	return out
}

func TestPersistClean_SucceedsOnFirstAttempt(t *testing.T) {
	db := &fakeDB{}
	p := New(db, 3, time.Millisecond, 5*time.Millisecond)

	err := p.PersistClean(context.Background(), "job-1", outcomesWithRows(3))
	require.NoError(t, err)
	assert.Equal(t, 1, db.batchCalls)
}

func TestPersistClean_RetriesThenSucceeds(t *testing.T) {
	db := &fakeDB{failUntil: 2}
	p := New(db, 3, time.Millisecond, 5*time.Millisecond)

	err := p.PersistClean(context.Background(), "job-1", outcomesWithRows(2))
	require.NoError(t, err)
	assert.Equal(t, 3, db.batchCalls)
}

func TestPersistClean_ExhaustsRetriesAndFails(t *testing.T) {
	db := &fakeDB{failUntil: 100}
	p := New(db, 2, time.Millisecond, 2*time.Millisecond)

	err := p.PersistClean(context.Background(), "job-1", outcomesWithRows(1))
	require.Error(t, err)
	assert.Equal(t, 3, db.batchCalls) // initial attempt + 2 retries
}

func TestPersistException_EmptyBatchIsNoop(t *testing.T) {
	db := &fakeDB{}
	p := New(db, 3, time.Millisecond, time.Millisecond)

	err := p.PersistException(context.Background(), "job-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, db.batchCalls)
}

func TestFinalize_CallsExec(t *testing.T) {
	db := &fakeDB{}
	p := New(db, 3, time.Millisecond, time.Millisecond)

	err := p.Finalize(context.Background(), "job-1", 100, 95, 5, 1234, domain.FileStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, db.execCalls)
}

func TestInsertFile_CallsExec(t *testing.T) {
	db := &fakeDB{}
	p := New(db, 3, time.Millisecond, time.Millisecond)

	rec := domain.FileRecord{
		ID: "file-1", JobID: "job-1", OriginalFileName: "data.csv",
		FileSize: 10, FileType: domain.FileTypeCSV, MimeType: "text/csv",
		Status: domain.FileStatusPending,
	}
	err := p.InsertFile(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 1, db.execCalls)
}

func TestMarkProcessingAndMarkFailed_CallExec(t *testing.T) {
	db := &fakeDB{}
	p := New(db, 3, time.Millisecond, time.Millisecond)

	require.NoError(t, p.MarkProcessing(context.Background(), "job-1"))
	require.NoError(t, p.MarkFailed(context.Background(), "job-1", "boom"))
	assert.Equal(t, 2, db.execCalls)
}
