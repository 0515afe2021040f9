// Package export implements Export (spec.md §4.13): serializing persisted
// clean or exception rows back into an XLSX workbook, generalizing the
// teacher's read-only excelize usage into a writer.
package export

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

const sheetName = "Sheet1"

// ExportClean serializes rows into an XLSX workbook: one column per
// field name, sorted for a stable column order across rows with
// differing field sets (a rule configuration change mid-history can add
// fields), one row per record in ascending row-number order.
func ExportClean(rows []domain.CleanRow) (io.Reader, error) {
	columns := cleanColumns(rows)

	f := excelize.NewFile()
	defer f.Close()

	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("export: header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return nil, fmt.Errorf("export: write header: %w", err)
		}
	}

	for r, row := range rows {
		for c, col := range columns {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, fmt.Errorf("export: row cell: %w", err)
			}
			if v, ok := row.Data[col]; ok {
				if err := f.SetCellValue(sheetName, cell, v); err != nil {
					return nil, fmt.Errorf("export: write cell: %w", err)
				}
			}
		}
	}

	return bufferize(f)
}

// ExportExceptions serializes exception rows: every distinct original
// field plus a synthesized "errors" column summarizing each failing rule
// as "field:rule:message", semicolon-joined.
func ExportExceptions(rows []domain.ExceptionRow) (io.Reader, error) {
	columns := exceptionColumns(rows)

	f := excelize.NewFile()
	defer f.Close()

	headers := append(append([]string{}, columns...), "errors")
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("export: header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("export: write header: %w", err)
		}
	}

	for r, row := range rows {
		for c, col := range columns {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, fmt.Errorf("export: row cell: %w", err)
			}
			if v, ok := row.OriginalData[col]; ok {
				if err := f.SetCellValue(sheetName, cell, v); err != nil {
					return nil, fmt.Errorf("export: write cell: %w", err)
				}
			}
		}
		errCell, err := excelize.CoordinatesToCellName(len(columns)+1, r+2)
		if err != nil {
			return nil, fmt.Errorf("export: error cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, errCell, summarizeErrors(row.Errors)); err != nil {
			return nil, fmt.Errorf("export: write errors cell: %w", err)
		}
	}

	return bufferize(f)
}

func summarizeErrors(errs []domain.RowError) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s:%s:%s", e.Field, e.RuleName, e.ErrorMessage)
	}
	return out
}

func cleanColumns(rows []domain.CleanRow) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		for k := range r.Data {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func exceptionColumns(rows []domain.ExceptionRow) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		for k := range r.OriginalData {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func bufferize(f *excelize.File) (io.Reader, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("export: serialize workbook: %w", err)
	}
	return bytes.NewReader(buf.Bytes()), nil
}
