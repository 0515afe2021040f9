package parser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// parseCSV streams rows from a CSV file. UTF-8 BOM is stripped if present;
// quoted fields, doubled-quote escapes, embedded commas/newlines, and
// CRLF/LF line endings are handled by encoding/csv directly. A field-count
// mismatch against the header is recorded as a per-row ParseError rather
// than aborting the file (spec.md §4.4).
func parseCSV(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Class: ErrFileUnreadable, Err: err}
	}

	br := bufio.NewReaderSize(f, 64*1024)
	if peek, err := br.Peek(len(utf8BOM)); err == nil && string(peek) == string(utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1 // we validate field count ourselves, per row
	reader.LazyQuotes = false

	headerRec, err := reader.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, &FileError{Class: ErrCorruptedStructure, Err: fmt.Errorf("file has no header row")}
		}
		return nil, &FileError{Class: ErrCorruptedStructure, Err: err}
	}
	headers := normalizeHeaders(headerRec)

	rows := make(chan Row, rowBufferSize)
	result := &Result{Headers: headers, Rows: rows}

	go func() {
		defer f.Close()
		defer close(rows)

		rowNumber := 0
		for {
			rec, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				result.Err = &FileError{Class: ErrCorruptedStructure, Err: err}
				return
			}
			rowNumber++

			fields := make(map[string]string, len(headers))
			var parseErr error
			if len(rec) != len(headers) {
				parseErr = fmt.Errorf("expected %d fields, got %d", len(headers), len(rec))
			}
			for i, h := range headers {
				if i < len(rec) {
					fields[h] = rec[i]
				}
			}
			rows <- Row{Number: rowNumber, Fields: fields, ParseError: parseErr}
		}
	}()

	return result, nil
}

func normalizeHeaders(rec []string) []string {
	seen := make(map[string]int, len(rec))
	out := make([]string, len(rec))
	for i, raw := range rec {
		h := strings.TrimSpace(raw)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if count, exists := seen[h]; exists {
			seen[h] = count + 1
			h = fmt.Sprintf("%s_%d", h, count+1)
		} else {
			seen[h] = 1
		}
		out[i] = h
	}
	return out
}
