package parser

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// parseLegacyXLS handles the .xls extension via excelize's streaming row
// iterator. excelize only understands the OOXML (xlsx-family) container;
// no reader for the legacy BIFF8 binary format appears anywhere in the
// dependency set this service draws from, so a true legacy .xls upload
// surfaces as UnsupportedFormat rather than being silently mis-parsed —
// callers that rename a real xlsx file to .xls still work.
func parseLegacyXLS(path string) (*Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &FileError{Class: ErrUnsupportedFormat, Err: fmt.Errorf("legacy .xls binary format is not supported: %w", err)}
	}

	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return nil, &FileError{Class: ErrCorruptedStructure, Err: fmt.Errorf("workbook has no sheets")}
	}

	streamRows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, &FileError{Class: ErrCorruptedStructure, Err: err}
	}

	if !streamRows.Next() {
		f.Close()
		return nil, &FileError{Class: ErrCorruptedStructure, Err: fmt.Errorf("sheet has no header row")}
	}
	headerRec, err := streamRows.Columns()
	if err != nil {
		f.Close()
		return nil, &FileError{Class: ErrCorruptedStructure, Err: err}
	}
	headers := normalizeHeaders(headerRec)

	out := make(chan Row, rowBufferSize)
	go func() {
		defer f.Close()
		defer close(out)

		rowNumber := 0
		for streamRows.Next() {
			rec, err := streamRows.Columns()
			if err != nil {
				return
			}
			rowNumber++
			fields := make(map[string]string, len(headers))
			for i, h := range headers {
				if i < len(rec) {
					fields[h] = rec[i]
				}
			}
			out <- Row{Number: rowNumber, Fields: fields}
		}
	}()

	return &Result{Headers: headers, Rows: out}, nil
}
