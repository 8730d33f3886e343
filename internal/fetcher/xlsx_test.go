package fetcher

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "seeds.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func readFile(t *testing.T, path string) *bytes.Reader {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestReadXLSX_Basic(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Symbol", "Name"},
			{"ABC", "  Abc Corp "},
		},
	})

	rows, err := ReadXLSX(readFile(t, path), XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"ABC", "Abc Corp"}, rows[1])
}

func TestReadXLSX_SkipsBlankRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Symbol"},
			{"  "},
			{"XYZ"},
		},
	})

	rows, err := ReadXLSX(readFile(t, path), XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "XYZ", rows[1][0])
}

func TestReadXLSX_SheetByName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Notes":   {{"ignore me"}},
		"Tickers": {{"Symbol"}, {"QQQ"}},
	})

	rows, err := ReadXLSX(readFile(t, path), XLSXOptions{SheetName: "Tickers"})
	require.NoError(t, err)
	assert.Equal(t, "QQQ", rows[1][0])
}

func TestReadXLSX_MissingSheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	_, err := ReadXLSX(readFile(t, path), XLSXOptions{SheetName: "Nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = ReadXLSX(readFile(t, path), XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_NotAWorkbook(t *testing.T) {
	_, err := ReadXLSX(bytes.NewReader([]byte("symbol,name\n")), XLSXOptions{})
	assert.Error(t, err)
}
