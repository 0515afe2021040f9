package export

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

func TestExportClean_WritesHeaderAndRows(t *testing.T) {
	rows := []domain.CleanRow{
		{RowNumber: 1, Data: map[string]interface{}{"name": "Zhang San", "phone": "13800001111"}},
		{RowNumber: 2, Data: map[string]interface{}{"name": "Li Si", "phone": "13800002222"}},
	}

	r, err := ExportClean(rows)
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"name", "phone"}, got[0])
	assert.Equal(t, []string{"Zhang San", "13800001111"}, got[1])
}

func TestExportExceptions_IncludesSynthesizedErrorsColumn(t *testing.T) {
	rows := []domain.ExceptionRow{
		{
			RowNumber:    2,
			OriginalData: map[string]string{"name": "", "phone": "abc"},
			Errors: []domain.RowError{
				{Field: "name", RuleName: "required", ErrorMessage: "name is required"},
			},
		},
	}

	r, err := ExportExceptions(rows)
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "errors")
	assert.Contains(t, got[1][len(got[1])-1], "name:required:name is required")
}
