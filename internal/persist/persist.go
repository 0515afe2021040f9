// Package persist implements the Batch Persister (spec.md §4.6): durable,
// idempotent batch writes of clean and exception rows, backed by a pgx
// connection pool.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/obs/logger"
)

// DB is the slice of *pgxpool.Pool that the Batch Persister needs. Narrowing
// to an interface lets tests substitute a fake without a live Postgres
// connection (pgxpool.Pool satisfies this directly).
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Persister writes processed rows to Postgres in batches and updates the
// files record; it keeps no per-job counters (Finalize takes them as
// arguments).
type Persister struct {
	pool             DB
	maxRetryAttempts int
	baseBackoff      time.Duration
	maxBackoff       time.Duration
	log              *logger.Logger
}

// New creates a Persister bound to pool, with the Work Queue's retry
// tuning reused for write retries (spec.md §4.6 "retry up to
// QUEUE_MAX_RETRY_ATTEMPTS with exponential backoff").
func New(pool DB, maxRetryAttempts int, baseBackoff, maxBackoff time.Duration) *Persister {
	return &Persister{
		pool:             pool,
		maxRetryAttempts: maxRetryAttempts,
		baseBackoff:      baseBackoff,
		maxBackoff:       maxBackoff,
		log:              logger.With("persist"),
	}
}

// PersistClean writes a batch of clean row outcomes to clean_records.
// Writes are idempotent by (jobId, rowNumber) via ON CONFLICT DO NOTHING,
// so a retried batch after a partial failure never double-inserts.
func (p *Persister) PersistClean(ctx context.Context, jobID string, outcomes []domain.RowOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return p.withRetry(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, o := range outcomes {
			data, err := json.Marshal(o.Normalized)
			if err != nil {
				return fmt.Errorf("marshal normalized row %d: %w", o.RowNumber, err)
			}
			batch.Queue(
				`INSERT INTO clean_records (job_id, row_number, row_data, created_at)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (job_id, row_number) DO NOTHING`,
				jobID, o.RowNumber, string(data), time.Now().UTC(),
			)
		}
		return p.execBatch(ctx, batch)
	})
}

// PersistException writes a batch of exception row outcomes to
// exception_records, same idempotency guarantee as PersistClean.
func (p *Persister) PersistException(ctx context.Context, jobID string, outcomes []domain.RowOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return p.withRetry(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, o := range outcomes {
			original, err := json.Marshal(o.OriginalData)
			if err != nil {
				return fmt.Errorf("marshal original row %d: %w", o.RowNumber, err)
			}
			errs, err := json.Marshal(o.Errors)
			if err != nil {
				return fmt.Errorf("marshal row errors %d: %w", o.RowNumber, err)
			}
			batch.Queue(
				`INSERT INTO exception_records (job_id, row_number, original_data, errors, created_at)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (job_id, row_number) DO NOTHING`,
				jobID, o.RowNumber, string(original), string(errs), time.Now().UTC(),
			)
		}
		return p.execBatch(ctx, batch)
	})
}

// InsertFile records a newly accepted upload's identity row before its
// Task is ever leased, so the Job Control API can answer files/status
// queries even while the job still sits in the pending queue.
func (p *Persister) InsertFile(ctx context.Context, rec domain.FileRecord) error {
	return p.withRetry(ctx, func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx,
			`INSERT INTO files (id, job_id, original_file_name, file_size, file_type, mime_type, status, uploaded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.ID, rec.JobID, rec.OriginalFileName, rec.FileSize, rec.FileType, rec.MimeType, rec.Status, rec.UploadedAt,
		)
		return err
	})
}

// MarkProcessing transitions jobID's file row to "processing", recording
// that the worker has picked it up.
func (p *Persister) MarkProcessing(ctx context.Context, jobID string) error {
	return p.withRetry(ctx, func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `UPDATE files SET status=$1 WHERE job_id=$2`, domain.FileStatusProcessing, jobID)
		return err
	})
}

// MarkFailed transitions jobID's file row to "failed" with errMsg, for
// non-retryable or retry-exhausted task failures.
func (p *Persister) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	return p.withRetry(ctx, func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx,
			`UPDATE files SET status=$1, error_message=$2, completed_at=$3 WHERE job_id=$4`,
			domain.FileStatusFailed, errMsg, time.Now().UTC(), jobID,
		)
		return err
	})
}

// Finalize records the job's terminal counters and completion time on the
// files table (spec.md §4.6 "finalize(jobId, counters)").
func (p *Persister) Finalize(ctx context.Context, jobID string, totalRows, cleanedRows, exceptionRows int, processingTimeMs int64, status domain.FileStatus) error {
	return p.withRetry(ctx, func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx,
			`UPDATE files SET status=$1, total_rows=$2, cleaned_rows=$3, exception_rows=$4,
			 processing_time_ms=$5, completed_at=$6 WHERE job_id=$7`,
			status, totalRows, cleanedRows, exceptionRows, processingTimeMs, time.Now().UTC(), jobID,
		)
		return err
	})
}

func (p *Persister) execBatch(ctx context.Context, batch *pgx.Batch) error {
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// withRetry applies exponential backoff across maxRetryAttempts, mirroring
// the teacher's CopyFrom retry loop but with the queue's shared backoff
// tuning instead of a hardcoded 100ms step.
func (p *Persister) withRetry(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	backoff := p.baseBackoff
	for attempt := 0; attempt <= p.maxRetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		p.log.Warn("batch write failed, retrying", "attempt", attempt+1, "error", lastErr.Error())
		if attempt == p.maxRetryAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
	return fmt.Errorf("batch write exhausted %d retries: %w", p.maxRetryAttempts, lastErr)
}
