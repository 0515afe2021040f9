package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func drain(t *testing.T, result *Result) []Row {
	t.Helper()
	var rows []Row
	for r := range result.Rows {
		rows = append(rows, r)
	}
	return rows
}

func TestParseCSV_BOMAndQuotedFields(t *testing.T) {
	content := "﻿name,phone,notes\r\n" +
		"Jane Doe,13800138000,\"hello, world\"\r\n" +
		"\"Bob \"\"The Builder\"\"\",13900139000,\"line1\nline2\"\r\n"
	path := writeTempFile(t, "in.csv", content)

	result, err := Parse(path, "csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "phone", "notes"}, result.Headers)

	rows := drain(t, result)
	require.Len(t, rows, 2)
	assert.Equal(t, "Jane Doe", rows[0].Fields["name"])
	assert.Equal(t, "hello, world", rows[0].Fields["notes"])
	assert.Contains(t, rows[1].Fields["notes"], "line1")
}

func TestParseCSV_FieldCountMismatchRecordsRowError(t *testing.T) {
	content := "a,b,c\n1,2\n"
	path := writeTempFile(t, "in.csv", content)

	result, err := Parse(path, "csv")
	require.NoError(t, err)

	rows := drain(t, result)
	require.Len(t, rows, 1)
	assert.Error(t, rows[0].ParseError)
}

func TestParseCSV_DuplicateHeadersGetSuffixed(t *testing.T) {
	content := "name,name,name\nJane,John,Jill\n"
	path := writeTempFile(t, "in.csv", content)

	result, err := Parse(path, "csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "name_2", "name_3"}, result.Headers)
}

func TestParseCSV_MissingFileIsFatal(t *testing.T) {
	_, err := Parse("/nonexistent/path.csv", "csv")
	require.Error(t, err)
	var fe *FileError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrFileUnreadable, fe.Class)
}
