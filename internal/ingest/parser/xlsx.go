package parser

import (
	"archive/zip"
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// xmlCell is one raw cell read off the worksheet XML.
type xmlCell struct {
	Type  string // "s"=shared string, "inlineStr", "d"=ISO date, ""=direct value
	Style string // numFmt style index, "s" attribute
	Value string
	Ref   string // e.g. "B5"
}

// parseXLSX streams rows directly from the XLSX zip's worksheet XML,
// without excelize and without materializing the sheet into memory, the
// same direct-zip approach the teacher uses for its fast path.
func parseXLSX(path string) (*Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &FileError{Class: ErrFileUnreadable, Err: err}
	}

	var sharedStringsFile, workbookFile, workbookRelsFile, stylesFile *zip.File
	sheetFiles := make(map[string]*zip.File)
	for _, f := range zr.File {
		switch f.Name {
		case "xl/sharedStrings.xml":
			sharedStringsFile = f
		case "xl/workbook.xml":
			workbookFile = f
		case "xl/_rels/workbook.xml.rels":
			workbookRelsFile = f
		case "xl/styles.xml":
			stylesFile = f
		}
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			sheetFiles[f.Name] = f
		}
	}

	sheetFile, err := findFirstSheet(workbookFile, workbookRelsFile, sheetFiles)
	if err != nil {
		if sf, ok := sheetFiles["xl/worksheets/sheet1.xml"]; ok {
			sheetFile = sf
		} else {
			zr.Close()
			return nil, &FileError{Class: ErrCorruptedStructure, Err: err}
		}
	}

	var sharedStrings []string
	if sharedStringsFile != nil {
		sharedStrings, err = readAllSharedStrings(sharedStringsFile)
		if err != nil {
			zr.Close()
			return nil, &FileError{Class: ErrCorruptedStructure, Err: fmt.Errorf("reading shared strings: %w", err)}
		}
	}

	var dateStyles map[int]bool
	if stylesFile != nil {
		dateStyles, err = readDateStyles(stylesFile)
		if err != nil {
			dateStyles = nil // typed-date detection degrades gracefully; numbers still round-trip
		}
	}

	headers, rows, fatalErr := streamSheetRows(zr, sheetFile, sharedStrings, dateStyles)
	if fatalErr != nil {
		zr.Close()
		return nil, fatalErr
	}
	return &Result{Headers: headers, Rows: rows}, nil
}

func readAllSharedStrings(ssFile *zip.File) ([]string, error) {
	rc, err := ssFile.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(bufio.NewReaderSize(rc, 256*1024))
	result := make([]string, 0, 1024)

	inSi, inT := false, false
	var text strings.Builder

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, nil
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inSi = true
				text.Reset()
			case "t":
				if inSi {
					inT = true
				}
			}
		case xml.CharData:
			if inT && inSi {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "si":
				result = append(result, text.String())
				inSi = false
			}
		}
	}
	return result, nil
}

// readDateStyles parses styles.xml and returns the set of cellXfs indices
// (the "s" attribute on <c>) whose numFmt represents a date or datetime,
// so the row reader can distinguish a typed date from a plain number
// (spec.md §4.4: "numeric cells ... unless a cell has a typed date").
func readDateStyles(stylesFile *zip.File) (map[int]bool, error) {
	rc, err := stylesFile.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	customDateFmt := make(map[string]bool) // numFmtId -> isDate
	var cellXfsNumFmtIDs []string
	inCellXfs := false

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		startEl, ok := tok.(xml.StartElement)
		if !ok {
			if endEl, ok := tok.(xml.EndElement); ok && endEl.Name.Local == "cellXfs" {
				inCellXfs = false
			}
			continue
		}
		switch startEl.Name.Local {
		case "numFmt":
			var id, code string
			for _, a := range startEl.Attr {
				switch a.Name.Local {
				case "numFmtId":
					id = a.Value
				case "formatCode":
					code = a.Value
				}
			}
			if id != "" {
				customDateFmt[id] = looksLikeDateFormat(code)
			}
		case "cellXfs":
			inCellXfs = true
		case "xf":
			if inCellXfs {
				for _, a := range startEl.Attr {
					if a.Name.Local == "numFmtId" {
						cellXfsNumFmtIDs = append(cellXfsNumFmtIDs, a.Value)
					}
				}
			}
		}
	}

	dateStyles := make(map[int]bool)
	for styleIdx, numFmtID := range cellXfsNumFmtIDs {
		id, err := strconv.Atoi(numFmtID)
		if err != nil {
			continue
		}
		if isBuiltinDateNumFmt(id) || customDateFmt[numFmtID] {
			dateStyles[styleIdx] = true
		}
	}
	return dateStyles, nil
}

// isBuiltinDateNumFmt reports whether id is one of the reserved built-in
// ECMA-376 date/time/datetime number formats.
func isBuiltinDateNumFmt(id int) bool {
	switch {
	case id >= 14 && id <= 22:
		return true
	case id >= 45 && id <= 47:
		return true
	default:
		return false
	}
}

func looksLikeDateFormat(code string) bool {
	lower := strings.ToLower(code)
	for _, token := range []string{"yy", "mm", "dd", "hh"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// excelEpoch is 1899-12-30 rather than Excel's nominal day zero
// (1899-12-31): Excel's date system counts a 1900-02-29 that never
// existed (serial 60), so anchoring one day earlier maps serials from 61
// (1900-03-01) onward to their correct dates. Serials 1-60 come out one
// day early (serial 1 becomes 1899-12-31).
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

func excelSerialToISODate(serial float64) (string, bool) {
	if serial <= 0 {
		return "", false
	}
	days := int(serial)
	frac := serial - float64(days)
	t := excelEpoch.AddDate(0, 0, days)
	if frac > 0 {
		t = t.Add(time.Duration(frac*24*3600*1e9) * time.Nanosecond)
		return t.Format("2006-01-02T15:04:05"), true
	}
	return t.Format("2006-01-02"), true
}

func streamSheetRows(zr *zip.ReadCloser, sheetFile *zip.File, sharedStrings []string, dateStyles map[int]bool) ([]string, <-chan Row, *FileError) {
	rc, err := sheetFile.Open()
	if err != nil {
		return nil, nil, &FileError{Class: ErrFileUnreadable, Err: err}
	}

	headers, firstDataRow, decoder, readErr := readHeaderRow(rc, sharedStrings)
	if readErr != nil {
		rc.Close()
		return nil, nil, &FileError{Class: ErrCorruptedStructure, Err: readErr}
	}

	out := make(chan Row, rowBufferSize)
	go func() {
		defer zr.Close()
		defer rc.Close()
		defer close(out)
		streamRemainingRows(decoder, firstDataRow, headers, sharedStrings, dateStyles, out)
	}()

	return headers, out, nil
}

// readHeaderRow consumes tokens up through the end of the first <row>,
// builds the header vector from it, and returns the still-open decoder so
// the caller continues reading from exactly where this left off. If the
// first row already contained data for a second logical row (it never
// does; XLSX rows are well delimited) this would need lookahead, but rows
// are always fully delimited by <row>...</row> so a clean handoff works.
func readHeaderRow(rc io.ReadCloser, sharedStrings []string) ([]string, *cellAccumulator, *xml.Decoder, error) {
	decoder := xml.NewDecoder(bufio.NewReaderSize(rc, 1024*1024))
	acc := newCellAccumulator()

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return nil, nil, decoder, fmt.Errorf("worksheet has no rows")
		}
		if err != nil {
			return nil, nil, decoder, err
		}
		done, headerCells, err := acc.feed(tok)
		if err != nil {
			return nil, nil, decoder, err
		}
		if done {
			headers := cellsToHeaders(headerCells, sharedStrings)
			return headers, acc, decoder, nil
		}
	}
}

func streamRemainingRows(decoder *xml.Decoder, acc *cellAccumulator, headers []string, sharedStrings []string, dateStyles map[int]bool, out chan<- Row) {
	rowNumber := 0
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
		done, cells, err := acc.feed(tok)
		if err != nil {
			return
		}
		if !done {
			continue
		}
		rowNumber++
		fields := cellsToFields(cells, headers, sharedStrings, dateStyles)
		out <- Row{Number: rowNumber, Fields: fields}
	}
}

// cellAccumulator incrementally consumes XML tokens for exactly one <row>
// at a time and returns the accumulated cells when the row closes.
type cellAccumulator struct {
	inRow           bool
	cells           []xmlCell
	current         xmlCell
	inValue         bool
	inInlineString  bool
	inInlineText    bool
	inlineText      strings.Builder
}

func newCellAccumulator() *cellAccumulator { return &cellAccumulator{} }

func (a *cellAccumulator) feed(tok xml.Token) (done bool, cells []xmlCell, err error) {
	switch t := tok.(type) {
	case xml.StartElement:
		switch t.Name.Local {
		case "row":
			a.inRow = true
			a.cells = a.cells[:0]
		case "c":
			if a.inRow {
				a.current = xmlCell{}
				a.inlineText.Reset()
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "t":
						a.current.Type = attr.Value
					case "r":
						a.current.Ref = attr.Value
					case "s":
						a.current.Style = attr.Value
					}
				}
			}
		case "v":
			if a.inRow {
				a.inValue = true
			}
		case "is":
			if a.inRow {
				a.inInlineString = true
			}
		case "t":
			if a.inRow && a.inInlineString {
				a.inInlineText = true
			}
		}
	case xml.CharData:
		if a.inRow {
			if a.inValue {
				a.current.Value = string(t)
			} else if a.inInlineText {
				a.inlineText.Write(t)
			}
		}
	case xml.EndElement:
		switch t.Name.Local {
		case "v":
			a.inValue = false
		case "t":
			a.inInlineText = false
		case "is":
			if a.inInlineString {
				a.current.Value = a.inlineText.String()
				a.inInlineString = false
			}
		case "c":
			if a.inRow {
				a.cells = append(a.cells, a.current)
			}
		case "row":
			if a.inRow {
				a.inRow = false
				return true, a.cells, nil
			}
		}
	}
	return false, nil, nil
}

func cellsToHeaders(cells []xmlCell, sharedStrings []string) []string {
	maxCol := maxColumnIndex(cells)
	raw := make([]string, maxCol)
	for _, cell := range cells {
		colIdx := columnIndex(cell.Ref)
		if colIdx < 0 || colIdx >= len(raw) {
			continue
		}
		raw[colIdx] = resolveValue(cell, sharedStrings, nil)
	}
	seen := make(map[string]int, len(raw))
	headers := make([]string, len(raw))
	for i, col := range raw {
		h := strings.TrimSpace(col)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if count, exists := seen[h]; exists {
			seen[h] = count + 1
			h = fmt.Sprintf("%s_%d", h, count+1)
		} else {
			seen[h] = 1
		}
		headers[i] = h
	}
	return headers
}

func cellsToFields(cells []xmlCell, headers []string, sharedStrings []string, dateStyles map[int]bool) map[string]string {
	fields := make(map[string]string, len(headers))
	for _, cell := range cells {
		colIdx := columnIndex(cell.Ref)
		if colIdx < 0 || colIdx >= len(headers) {
			continue
		}
		value := resolveValue(cell, sharedStrings, dateStyles)
		if value != "" {
			fields[headers[colIdx]] = value
		}
	}
	return fields
}

func resolveValue(cell xmlCell, sharedStrings []string, dateStyles map[int]bool) string {
	switch cell.Type {
	case "s":
		if cell.Value == "" {
			return ""
		}
		if idx, err := strconv.Atoi(cell.Value); err == nil && idx >= 0 && idx < len(sharedStrings) {
			return sharedStrings[idx]
		}
		return ""
	case "d":
		return cell.Value
	case "inlineStr", "str":
		return cell.Value
	default:
		if cell.Value == "" {
			return ""
		}
		if dateStyles != nil && cell.Style != "" {
			if styleIdx, err := strconv.Atoi(cell.Style); err == nil && dateStyles[styleIdx] {
				if serial, err := strconv.ParseFloat(cell.Value, 64); err == nil {
					if iso, ok := excelSerialToISODate(serial); ok {
						return iso
					}
				}
			}
		}
		return formatNumber(cell.Value)
	}
}

// formatNumber trims numeric noise the way the teacher's formatter does:
// integral values lose a trailing ".0", and everything else is capped to
// two decimal places; non-numeric values pass through unchanged.
func formatNumber(value string) string {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return value
	}
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func maxColumnIndex(cells []xmlCell) int {
	maxCol := 0
	for _, cell := range cells {
		if cell.Ref == "" {
			continue
		}
		if idx := columnIndex(cell.Ref); idx+1 > maxCol {
			maxCol = idx + 1
		}
	}
	if maxCol == 0 {
		maxCol = len(cells)
	}
	return maxCol
}

// columnIndex converts an Excel column reference (e.g. "B5", "AA12") to a
// 0-based column index.
func columnIndex(ref string) int {
	letters := ""
	for _, c := range ref {
		if c >= 'A' && c <= 'Z' {
			letters += string(c)
		} else {
			break
		}
	}
	if letters == "" {
		return -1
	}
	result := 0
	for _, c := range letters {
		result = result*26 + int(c-'A'+1)
	}
	return result - 1
}

func findFirstSheet(workbookFile, workbookRelsFile *zip.File, sheetFiles map[string]*zip.File) (*zip.File, error) {
	if workbookFile == nil {
		return nil, fmt.Errorf("workbook.xml not found")
	}
	rc, err := workbookFile.Open()
	if err != nil {
		return nil, err
	}
	var firstSheetRID string
	decoder := xml.NewDecoder(rc)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			rc.Close()
			return nil, err
		}
		if startEl, ok := tok.(xml.StartElement); ok && startEl.Name.Local == "sheet" {
			for _, attr := range startEl.Attr {
				if attr.Name.Local == "id" {
					firstSheetRID = attr.Value
					break
				}
			}
			if firstSheetRID != "" {
				break
			}
		}
	}
	rc.Close()
	if firstSheetRID == "" {
		return nil, fmt.Errorf("no sheet declared in workbook.xml")
	}

	if workbookRelsFile == nil {
		return nil, fmt.Errorf("workbook.xml.rels not found")
	}
	rc2, err := workbookRelsFile.Open()
	if err != nil {
		return nil, err
	}
	defer rc2.Close()

	var sheetPath string
	decoder2 := xml.NewDecoder(rc2)
	for {
		tok, err := decoder2.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if startEl, ok := tok.(xml.StartElement); ok && startEl.Name.Local == "Relationship" {
			var id, target string
			for _, attr := range startEl.Attr {
				switch attr.Name.Local {
				case "Id":
					id = attr.Value
				case "Target":
					target = attr.Value
				}
			}
			if id == firstSheetRID {
				sheetPath = target
				break
			}
		}
	}
	if sheetPath == "" {
		return nil, fmt.Errorf("no relationship target for rId %s", firstSheetRID)
	}

	fullPath := strings.ReplaceAll("xl/"+sheetPath, "xl/../", "")
	if sheetFile, ok := sheetFiles[fullPath]; ok {
		return sheetFile, nil
	}
	return nil, fmt.Errorf("sheet file not found: %s", fullPath)
}
