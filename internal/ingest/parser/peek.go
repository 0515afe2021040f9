package parser

import (
	"archive/zip"
	"bufio"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

// Peeked is the product of a fast pre-scan: the header vector and the
// total data-row count, known ahead of the full background Parse.
type Peeked struct {
	Headers   []string
	TotalRows int
}

// Peek reports headers and totalRows for path without running the full
// rule-evaluation pipeline over it, so the upload endpoint can answer
// totalRows immediately and the Progress Tracker can seed an accurate
// denominator before the Parallel Processor starts (spec.md §4.4, §4.7).
// It reads the file a second time; Parse remains the authoritative
// streaming pass that actually yields rows.
func Peek(path string, fileType domain.FileType) (Peeked, error) {
	switch fileType {
	case domain.FileTypeCSV:
		return peekCSV(path)
	case domain.FileTypeXLSX:
		return peekXLSX(path)
	case domain.FileTypeXLS:
		return peekXLS(path)
	default:
		return Peeked{}, &FileError{Class: ErrUnsupportedFormat, Err: fmt.Errorf("unrecognized file type %q", fileType)}
	}
}

func peekCSV(path string) (Peeked, error) {
	f, err := os.Open(path)
	if err != nil {
		return Peeked{}, &FileError{Class: ErrFileUnreadable, Err: err}
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64*1024)
	if peek, err := br.Peek(len(utf8BOM)); err == nil && string(peek) == string(utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = false

	headerRec, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: fmt.Errorf("file has no header row")}
		}
		return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: err}
	}

	total := 0
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A malformed row doesn't invalidate the count gathered so
			// far; Parse is the one that surfaces the real per-row error.
			break
		}
		total++
	}
	return Peeked{Headers: normalizeHeaders(headerRec), TotalRows: total}, nil
}

// peekXLSX prefers the worksheet's <dimension ref="A1:F1000"/> attribute,
// which states the row count without reading a single cell; when a sheet
// omits it (some writers do), it falls back to counting <row> elements,
// still far cheaper than the full cell-by-cell decode parseXLSX performs.
func peekXLSX(path string) (Peeked, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Peeked{}, &FileError{Class: ErrFileUnreadable, Err: err}
	}
	defer zr.Close()

	var sharedStringsFile, workbookFile, workbookRelsFile *zip.File
	sheetFiles := make(map[string]*zip.File)
	for _, f := range zr.File {
		switch f.Name {
		case "xl/sharedStrings.xml":
			sharedStringsFile = f
		case "xl/workbook.xml":
			workbookFile = f
		case "xl/_rels/workbook.xml.rels":
			workbookRelsFile = f
		}
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			sheetFiles[f.Name] = f
		}
	}

	sheetFile, err := findFirstSheet(workbookFile, workbookRelsFile, sheetFiles)
	if err != nil {
		sf, ok := sheetFiles["xl/worksheets/sheet1.xml"]
		if !ok {
			return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: err}
		}
		sheetFile = sf
	}

	var sharedStrings []string
	if sharedStringsFile != nil {
		sharedStrings, err = readAllSharedStrings(sharedStringsFile)
		if err != nil {
			return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: fmt.Errorf("reading shared strings: %w", err)}
		}
	}

	rc, err := sheetFile.Open()
	if err != nil {
		return Peeked{}, &FileError{Class: ErrFileUnreadable, Err: err}
	}
	defer rc.Close()

	decoder := xml.NewDecoder(bufio.NewReaderSize(rc, 1024*1024))
	acc := newCellAccumulator()

	dimRows := -1
	headerSeen := false
	rowCount := 0
	var headers []string

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: err}
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "dimension" {
			for _, attr := range start.Attr {
				if attr.Name.Local == "ref" {
					dimRows = dimensionRowCount(attr.Value)
				}
			}
		}

		done, cells, ferr := acc.feed(tok)
		if ferr != nil {
			return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: ferr}
		}
		if !done {
			continue
		}
		if !headerSeen {
			headers = cellsToHeaders(cells, sharedStrings)
			headerSeen = true
			if dimRows >= 0 {
				return Peeked{Headers: headers, TotalRows: subtractFloor(dimRows, 1)}, nil
			}
			continue
		}
		rowCount++
	}

	if !headerSeen {
		return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: fmt.Errorf("worksheet has no rows")}
	}
	return Peeked{Headers: headers, TotalRows: rowCount}, nil
}

// dimensionRowCount extracts the trailing row number from a dimension ref
// like "A1:F1000" or a single-cell "A1"; -1 if it can't be parsed.
func dimensionRowCount(ref string) int {
	parts := strings.Split(ref, ":")
	last := parts[len(parts)-1]
	digits := strings.TrimLeft(last, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return -1
	}
	return n
}

func subtractFloor(a, b int) int {
	if a-b < 0 {
		return 0
	}
	return a - b
}

// peekXLS pays the same cost as parseLegacyXLS since excelize has no
// lighter-weight row-count path for it; kept for interface symmetry with
// the xlsx/csv fast paths rather than being a genuine shortcut.
func peekXLS(path string) (Peeked, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Peeked{}, &FileError{Class: ErrUnsupportedFormat, Err: fmt.Errorf("legacy .xls binary format is not supported: %w", err)}
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: fmt.Errorf("workbook has no sheets")}
	}
	streamRows, err := f.Rows(sheet)
	if err != nil {
		return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: err}
	}
	if !streamRows.Next() {
		return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: fmt.Errorf("sheet has no header row")}
	}
	headerRec, err := streamRows.Columns()
	if err != nil {
		return Peeked{}, &FileError{Class: ErrCorruptedStructure, Err: err}
	}
	headers := normalizeHeaders(headerRec)

	total := 0
	for streamRows.Next() {
		total++
	}
	return Peeked{Headers: headers, TotalRows: total}, nil
}
