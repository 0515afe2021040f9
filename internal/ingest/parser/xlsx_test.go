package parser

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/><Override PartName="/xl/worksheets/sheet1.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/></Types>`

const minimalWorkbook = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><sheets><sheet name="Sheet1" sheetId="1" r:id="rId1"/></sheets></workbook>`

const minimalWorkbookRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/></Relationships>`

const sheetWithSharedStrings = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>
<row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1" t="s"><v>1</v></c></row>
<row r="2"><c r="A1" t="s"><v>2</v></c><c r="B1"><v>13800138000</v></c></row>
</sheetData></worksheet>`

const sharedStringsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="3" uniqueCount="3">
<si><t>name</t></si><si><t>phone</t></si><si><t>Jane Doe</t></si>
</sst>`

func writeMinimalXLSX(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "in.xlsx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	files := map[string]string{
		"[Content_Types].xml":       minimalContentTypes,
		"xl/workbook.xml":           minimalWorkbook,
		"xl/_rels/workbook.xml.rels": minimalWorkbookRels,
		"xl/worksheets/sheet1.xml":  sheetWithSharedStrings,
		"xl/sharedStrings.xml":      sharedStringsXML,
	}
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func TestParseXLSX_HeadersAndSharedStrings(t *testing.T) {
	path := writeMinimalXLSX(t)

	result, err := Parse(path, "xlsx")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "phone"}, result.Headers)

	rows := drain(t, result)
	require.Len(t, rows, 1)
	assert.Equal(t, "Jane Doe", rows[0].Fields["name"])
	assert.Equal(t, "13800138000", rows[0].Fields["phone"])
}

func TestColumnIndex(t *testing.T) {
	assert.Equal(t, 0, columnIndex("A1"))
	assert.Equal(t, 1, columnIndex("B5"))
	assert.Equal(t, 26, columnIndex("AA1"))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "10", formatNumber("10.0"))
	assert.Equal(t, "10.50", formatNumber("10.5"))
	assert.Equal(t, "abc", formatNumber("abc"))
}

func TestExcelSerialToISODate(t *testing.T) {
	iso, ok := excelSerialToISODate(45000)
	require.True(t, ok)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, iso)
}
