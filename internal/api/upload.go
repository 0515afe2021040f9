package api

import (
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/silencealoe/data-clean-tool/internal/apierr"
	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/ingest/parser"
)

// allowedExtensions maps an accepted file extension to its FileType and
// the MIME types associated with it (spec.md §6 "File constraints").
// Acceptance is decided by the extension alone; the declared MIME type is
// not checked, and the first listed MIME type is only recorded as the
// file's MimeType when the upload declares none.
var allowedExtensions = map[string]struct {
	fileType domain.FileType
	mimes    []string
}{
	".xlsx": {domain.FileTypeXLSX, []string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}},
	".xls":  {domain.FileTypeXLS, []string{"application/vnd.ms-excel"}},
	".csv":  {domain.FileTypeCSV, []string{"text/csv", "application/csv", "application/vnd.ms-excel"}},
}

func (a *App) handleUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return respondError(c, apierr.Wrap(apierr.CodeValidationFailed, "no file received", err))
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	spec, ok := allowedExtensions[ext]
	if !ok {
		return respondError(c, apierr.New(apierr.CodeUnsupportedFileType, "file must be .xlsx, .xls, or .csv"))
	}
	if a.MaxUploadBytes > 0 && fh.Size > a.MaxUploadBytes {
		return respondError(c, apierr.New(apierr.CodeFileTooLarge, "file exceeds the configured size limit"))
	}

	uploadID := a.UploadTracker.StartTracking(fh.Filename, fh.Size)

	jobID := uuid.NewString()
	fileID := uuid.NewString()
	destPath := filepath.Join(a.UploadDir, jobID+ext)

	if err := saveUpload(fh, destPath); err != nil {
		a.UploadTracker.FailUpload(uploadID, err.Error())
		return respondError(c, apierr.Wrap(apierr.CodeInternalError, "failed to store upload", err))
	}
	a.UploadTracker.UpdateProgress(uploadID, fh.Size)
	a.UploadTracker.CompleteUpload(uploadID)

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" && len(spec.mimes) > 0 {
		mimeType = spec.mimes[0]
	}

	rec := domain.FileRecord{
		ID:               fileID,
		JobID:            jobID,
		OriginalFileName: fh.Filename,
		FileSize:         fh.Size,
		FileType:         spec.fileType,
		MimeType:         mimeType,
		Status:           domain.FileStatusPending,
		UploadedAt:       time.Now().UTC(),
	}
	if err := a.Persister.InsertFile(c.Context(), rec); err != nil {
		return respondError(c, apierr.Wrap(apierr.CodeInternalError, "failed to record upload", err))
	}

	if _, err := a.Producer.Submit(c.Context(), jobID, fileID, destPath, fh.Filename, spec.fileType); err != nil {
		return respondError(c, apierr.Wrap(apierr.CodeInternalError, "failed to enqueue job", err))
	}

	// A fast pre-scan reports totalRows in the upload response itself,
	// ahead of the background parse/process pipeline; a failed or
	// unsupported peek just omits it rather than failing the upload,
	// since the Task Consumer's own pre-scan is the authoritative one.
	var totalRows *int
	if peeked, err := parser.Peek(destPath, spec.fileType); err == nil {
		totalRows = &peeked.TotalRows
	}

	resp := fiber.Map{
		"jobId":   jobID,
		"taskId":  jobID,
		"fileId":  fileID,
		"message": "file accepted, processing started",
		"status":  domain.FileStatusPending,
	}
	if totalRows != nil {
		resp["totalRows"] = *totalRows
	}
	return c.JSON(resp)
}

func saveUpload(fh *multipart.FileHeader, destPath string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
