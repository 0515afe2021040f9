package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/obs/logger"
)

// Queryer is the read-side slice of *pgxpool.Pool the Reader needs.
// Narrowed to an interface for the same testability reason as DB.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// ListFilesOptions filters and paginates the files list (spec.md §6 "GET
// /api/data-cleaning/files").
type ListFilesOptions struct {
	Page      int
	PageSize  int
	Status    domain.FileStatus
	StartDate *string
	EndDate   *string
}

// Reader serves the Job Control API's read paths: file records and
// paginated clean/exception rows written by the Batch Persister.
type Reader struct {
	pool Queryer
	log  *logger.Logger
}

// NewReader creates a Reader bound to pool.
func NewReader(pool Queryer) *Reader {
	return &Reader{pool: pool, log: logger.With("persist.reader")}
}

// GetFile returns the FileRecord for jobID, or pgx.ErrNoRows if absent.
func (r *Reader) GetFile(ctx context.Context, jobID string) (*domain.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, job_id, original_file_name, file_size, file_type, mime_type,
		       status, uploaded_at, completed_at, total_rows, cleaned_rows,
		       exception_rows, processing_time_ms, clean_data_path,
		       exception_data_path, error_message
		FROM files WHERE job_id = $1`, jobID)

	var rec domain.FileRecord
	if err := row.Scan(
		&rec.ID, &rec.JobID, &rec.OriginalFileName, &rec.FileSize, &rec.FileType, &rec.MimeType,
		&rec.Status, &rec.UploadedAt, &rec.CompletedAt, &rec.TotalRows, &rec.CleanedRows,
		&rec.ExceptionRows, &rec.ProcessingTimeMs, &rec.CleanDataPath,
		&rec.ExceptionDataPath, &rec.ErrorMessage,
	); err != nil {
		return nil, fmt.Errorf("persist: get file %s: %w", jobID, err)
	}
	return &rec, nil
}

// GetFileByID returns the FileRecord for fileID (the files.id primary
// key, distinct from jobID), or pgx.ErrNoRows if absent.
func (r *Reader) GetFileByID(ctx context.Context, fileID string) (*domain.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, job_id, original_file_name, file_size, file_type, mime_type,
		       status, uploaded_at, completed_at, total_rows, cleaned_rows,
		       exception_rows, processing_time_ms, clean_data_path,
		       exception_data_path, error_message
		FROM files WHERE id = $1`, fileID)

	var rec domain.FileRecord
	if err := row.Scan(
		&rec.ID, &rec.JobID, &rec.OriginalFileName, &rec.FileSize, &rec.FileType, &rec.MimeType,
		&rec.Status, &rec.UploadedAt, &rec.CompletedAt, &rec.TotalRows, &rec.CleanedRows,
		&rec.ExceptionRows, &rec.ProcessingTimeMs, &rec.CleanDataPath,
		&rec.ExceptionDataPath, &rec.ErrorMessage,
	); err != nil {
		return nil, fmt.Errorf("persist: get file by id %s: %w", fileID, err)
	}
	return &rec, nil
}

// ListFiles returns a page of files matching opts along with the total
// matching count.
func (r *Reader) ListFiles(ctx context.Context, opts ListFilesOptions) ([]domain.FileRecord, int, error) {
	page, pageSize := normalizePage(opts.Page, opts.PageSize)

	where := "WHERE 1=1"
	args := []interface{}{}
	argN := 0
	next := func(v interface{}) string {
		argN++
		args = append(args, v)
		return fmt.Sprintf("$%d", argN)
	}
	if opts.Status != "" {
		where += " AND status = " + next(opts.Status)
	}
	if opts.StartDate != nil {
		where += " AND uploaded_at >= " + next(*opts.StartDate)
	}
	if opts.EndDate != nil {
		where += " AND uploaded_at <= " + next(*opts.EndDate)
	}

	var total int
	countSQL := "SELECT count(*) FROM files " + where
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("persist: count files: %w", err)
	}

	limitArg := next(pageSize)
	offsetArg := next((page - 1) * pageSize)
	listSQL := fmt.Sprintf(`
		SELECT id, job_id, original_file_name, file_size, file_type, mime_type,
		       status, uploaded_at, completed_at, total_rows, cleaned_rows,
		       exception_rows, processing_time_ms, clean_data_path,
		       exception_data_path, error_message
		FROM files %s ORDER BY uploaded_at DESC LIMIT %s OFFSET %s`, where, limitArg, offsetArg)

	rows, err := r.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("persist: list files: %w", err)
	}
	defer rows.Close()

	var out []domain.FileRecord
	for rows.Next() {
		var rec domain.FileRecord
		if err := rows.Scan(
			&rec.ID, &rec.JobID, &rec.OriginalFileName, &rec.FileSize, &rec.FileType, &rec.MimeType,
			&rec.Status, &rec.UploadedAt, &rec.CompletedAt, &rec.TotalRows, &rec.CleanedRows,
			&rec.ExceptionRows, &rec.ProcessingTimeMs, &rec.CleanDataPath,
			&rec.ExceptionDataPath, &rec.ErrorMessage,
		); err != nil {
			return nil, 0, fmt.Errorf("persist: scan file row: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// CleanRows returns a page of clean_records for jobID in ascending row
// order, plus the total row count.
func (r *Reader) CleanRows(ctx context.Context, jobID string, page, pageSize int) ([]domain.CleanRow, int, error) {
	page, pageSize = normalizePage(page, pageSize)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM clean_records WHERE job_id = $1`, jobID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("persist: count clean rows: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT row_number, row_data FROM clean_records
		WHERE job_id = $1 ORDER BY row_number ASC LIMIT $2 OFFSET $3`,
		jobID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("persist: list clean rows: %w", err)
	}
	defer rows.Close()

	var out []domain.CleanRow
	for rows.Next() {
		var rowNumber int
		var raw string
		if err := rows.Scan(&rowNumber, &raw); err != nil {
			return nil, 0, fmt.Errorf("persist: scan clean row: %w", err)
		}
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, 0, fmt.Errorf("persist: decode clean row %d: %w", rowNumber, err)
		}
		out = append(out, domain.CleanRow{RowNumber: rowNumber, Data: data})
	}
	return out, total, rows.Err()
}

// ExceptionRows returns a page of exception_records for jobID in
// ascending row order, plus the total row count.
func (r *Reader) ExceptionRows(ctx context.Context, jobID string, page, pageSize int) ([]domain.ExceptionRow, int, error) {
	page, pageSize = normalizePage(page, pageSize)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM exception_records WHERE job_id = $1`, jobID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("persist: count exception rows: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT row_number, original_data, errors FROM exception_records
		WHERE job_id = $1 ORDER BY row_number ASC LIMIT $2 OFFSET $3`,
		jobID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("persist: list exception rows: %w", err)
	}
	defer rows.Close()

	var out []domain.ExceptionRow
	for rows.Next() {
		var rowNumber int
		var rawOriginal, rawErrors string
		if err := rows.Scan(&rowNumber, &rawOriginal, &rawErrors); err != nil {
			return nil, 0, fmt.Errorf("persist: scan exception row: %w", err)
		}
		var original map[string]string
		if err := json.Unmarshal([]byte(rawOriginal), &original); err != nil {
			return nil, 0, fmt.Errorf("persist: decode exception row %d original data: %w", rowNumber, err)
		}
		var errs []domain.RowError
		if err := json.Unmarshal([]byte(rawErrors), &errs); err != nil {
			return nil, 0, fmt.Errorf("persist: decode exception row %d errors: %w", rowNumber, err)
		}
		out = append(out, domain.ExceptionRow{RowNumber: rowNumber, OriginalData: original, Errors: errs})
	}
	return out, total, rows.Err()
}

// AllCleanRows reads every clean row for jobID, unpaginated, for Export.
// A job with more rows than fits comfortably in memory needs a streaming
// cursor instead of a single read, which nothing in the examples pack's
// excelize usage models (its writer API takes whole rows, not a row
// source) — left as a known limitation.
func (r *Reader) AllCleanRows(ctx context.Context, jobID string) ([]domain.CleanRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT row_number, row_data FROM clean_records
		WHERE job_id = $1 ORDER BY row_number ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("persist: read all clean rows: %w", err)
	}
	defer rows.Close()

	var out []domain.CleanRow
	for rows.Next() {
		var rowNumber int
		var raw string
		if err := rows.Scan(&rowNumber, &raw); err != nil {
			return nil, fmt.Errorf("persist: scan clean row: %w", err)
		}
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("persist: decode clean row %d: %w", rowNumber, err)
		}
		out = append(out, domain.CleanRow{RowNumber: rowNumber, Data: data})
	}
	return out, rows.Err()
}

// AllExceptionRows reads every exception row for jobID, unpaginated, for
// Export. Same memory caveat as AllCleanRows.
func (r *Reader) AllExceptionRows(ctx context.Context, jobID string) ([]domain.ExceptionRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT row_number, original_data, errors FROM exception_records
		WHERE job_id = $1 ORDER BY row_number ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("persist: read all exception rows: %w", err)
	}
	defer rows.Close()

	var out []domain.ExceptionRow
	for rows.Next() {
		var rowNumber int
		var rawOriginal, rawErrors string
		if err := rows.Scan(&rowNumber, &rawOriginal, &rawErrors); err != nil {
			return nil, fmt.Errorf("persist: scan exception row: %w", err)
		}
		var original map[string]string
		if err := json.Unmarshal([]byte(rawOriginal), &original); err != nil {
			return nil, fmt.Errorf("persist: decode exception row %d original data: %w", rowNumber, err)
		}
		var errs []domain.RowError
		if err := json.Unmarshal([]byte(rawErrors), &errs); err != nil {
			return nil, fmt.Errorf("persist: decode exception row %d errors: %w", rowNumber, err)
		}
		out = append(out, domain.ExceptionRow{RowNumber: rowNumber, OriginalData: original, Errors: errs})
	}
	return out, rows.Err()
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 1000 {
		pageSize = 1000
	}
	return page, pageSize
}
