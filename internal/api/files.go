package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/silencealoe/data-clean-tool/internal/apierr"
	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/export"
	"github.com/silencealoe/data-clean-tool/internal/persist"
)

// handleListFiles answers GET /api/data-cleaning/files.
func (a *App) handleListFiles(c *fiber.Ctx) error {
	opts := persist.ListFilesOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("pageSize", 50),
		Status:   domain.FileStatus(c.Query("status")),
	}
	if v := c.Query("startDate"); v != "" {
		opts.StartDate = &v
	}
	if v := c.Query("endDate"); v != "" {
		opts.EndDate = &v
	}

	files, total, err := a.Reader.ListFiles(c.Context(), opts)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"files":    files,
		"total":    total,
		"page":     opts.Page,
		"pageSize": opts.PageSize,
	})
}

// handleFileDetail answers GET /api/data-cleaning/files/{fileId}.
func (a *App) handleFileDetail(c *fiber.Ctx) error {
	fileID := c.Params("fileId")
	rec, err := a.Reader.GetFileByID(c.Context(), fileID)
	if err != nil {
		return respondError(c, err)
	}
	resp := fiber.Map{"file": rec}
	if rec.Status == domain.FileStatusCompleted || rec.Status == domain.FileStatusFailed {
		resp["statistics"] = statisticsFromRecord(rec)
	}
	return c.JSON(resp)
}

// handleDataClean answers GET /api/data-cleaning/data/clean/{jobId}.
func (a *App) handleDataClean(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	page, pageSize := c.QueryInt("page", 1), c.QueryInt("pageSize", 50)
	rows, total, err := a.Reader.CleanRows(c.Context(), jobID, page, pageSize)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paginatedResponse(rows, total, page, pageSize))
}

// handleDataExceptions answers GET /api/data-cleaning/data/exceptions/{jobId}.
func (a *App) handleDataExceptions(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	page, pageSize := c.QueryInt("page", 1), c.QueryInt("pageSize", 50)
	rows, total, err := a.Reader.ExceptionRows(c.Context(), jobID, page, pageSize)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paginatedResponse(rows, total, page, pageSize))
}

// handleDownloadClean answers GET /api/data-cleaning/download/clean/{jobId}.
func (a *App) handleDownloadClean(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	rows, err := a.Reader.AllCleanRows(c.Context(), jobID)
	if err != nil {
		return respondError(c, err)
	}
	r, err := export.ExportClean(rows)
	if err != nil {
		return respondError(c, apierr.Wrap(apierr.CodeInternalError, "failed to build workbook", err))
	}
	setSpreadsheetHeaders(c, jobID+"-clean.xlsx")
	return c.SendStream(r)
}

// handleDownloadExceptions answers GET /api/data-cleaning/download/exceptions/{jobId}.
func (a *App) handleDownloadExceptions(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	rows, err := a.Reader.AllExceptionRows(c.Context(), jobID)
	if err != nil {
		return respondError(c, err)
	}
	r, err := export.ExportExceptions(rows)
	if err != nil {
		return respondError(c, apierr.Wrap(apierr.CodeInternalError, "failed to build workbook", err))
	}
	setSpreadsheetHeaders(c, jobID+"-exceptions.xlsx")
	return c.SendStream(r)
}

func setSpreadsheetHeaders(c *fiber.Ctx, filename string) {
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
}

func paginatedResponse(data interface{}, total, page, pageSize int) fiber.Map {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return fiber.Map{
		"data":       data,
		"total":      total,
		"page":       page,
		"pageSize":   pageSize,
		"totalPages": totalPages,
	}
}
