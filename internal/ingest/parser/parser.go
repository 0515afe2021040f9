// Package parser implements the Streaming Parser (spec.md §4.4): turns a
// file into a lazy sequence of rows with a stable header vector and a
// 1-based row number, without ever materializing the whole file in memory.
package parser

import (
	"fmt"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

// Row is one data row: Number is 1-based over data rows (the header is row
// 0 and is never emitted as a Row). Fields is keyed by the header vector.
type Row struct {
	Number int
	Fields map[string]string
	// ParseError is set when this row's shape didn't match the header
	// (e.g. CSV field count mismatch); the row is still emitted so callers
	// can route it to the exception set with a row number attached.
	ParseError error
}

// ErrorClass distinguishes parser failures that are fatal to the whole
// file (spec.md §4.4 "Failure") from per-row parse errors.
type ErrorClass string

const (
	ErrFileUnreadable    ErrorClass = "FileUnreadable"
	ErrUnsupportedFormat ErrorClass = "UnsupportedFormat"
	ErrCorruptedStructure ErrorClass = "CorruptedStructure"
)

// FileError is a fatal, whole-file parsing failure.
type FileError struct {
	Class ErrorClass
	Err   error
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.Class, e.Err) }
func (e *FileError) Unwrap() error { return e.Err }

// Result is the product of opening a file: the stable header vector and a
// channel yielding rows in file order. The channel is closed when parsing
// completes or a fatal error is recorded in Err.
type Result struct {
	Headers []string
	Rows    <-chan Row
	// Err is populated (once, after Rows closes) if a fatal FileError
	// terminated parsing early. Callers must drain Rows before checking Err.
	Err *FileError
}

// rowBufferSize bounds the channel so a slow consumer applies backpressure
// to the producing goroutine instead of the parser racing ahead and
// buffering the whole file (spec.md §4.4 "Memory bound").
const rowBufferSize = 256

// Parse dispatches to the format-specific streaming reader for fileType.
func Parse(path string, fileType domain.FileType) (*Result, error) {
	switch fileType {
	case domain.FileTypeCSV:
		return parseCSV(path)
	case domain.FileTypeXLSX:
		return parseXLSX(path)
	case domain.FileTypeXLS:
		return parseLegacyXLS(path)
	default:
		return nil, &FileError{Class: ErrUnsupportedFormat, Err: fmt.Errorf("unrecognized file type %q", fileType)}
	}
}
