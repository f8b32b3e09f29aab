package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

type testSheet struct {
	name string
	rows [][]string
}

func createTestXLSX(t *testing.T, dir, name string, sheets ...testSheet) string {
	t.Helper()
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		require.NoError(t, err)
		for _, rowData := range s.rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, f.Save(path))
	return path
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "daily_report_sheet_0.csv", SheetName("/tmp/in/daily_report.xlsx", 0))
	assert.Equal(t, "x_sheet_3.csv", SheetName("x.XLSX", 3))
}

func TestXLSXSources(t *testing.T) {
	path := createTestXLSX(t, t.TempDir(), "report.xlsx",
		testSheet{"Counties", [][]string{
			{"access_time", "state", "county"},
			{"2020-04-01", "NY", "Kings"},
		}},
		testSheet{"Empty", nil},
		testSheet{"Ages", [][]string{
			{"access_time", "state", "age_range"},
			{"2020-04-01", "NY", "0-9"},
			{"2020-04-01", "NY", "10-19"},
		}},
	)

	inputs, err := XLSXSources(path)
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	assert.Equal(t, "report_sheet_0.csv", inputs[0].Name)
	assert.Equal(t, []string{"access_time", "state", "county"}, inputs[0].Source.Header())
	assert.Equal(t, [][]string{{"2020-04-01", "NY", "Kings"}}, readAll(t, inputs[0].Source))

	assert.Equal(t, "report_sheet_2.csv", inputs[1].Name)
	assert.Len(t, readAll(t, inputs[1].Source), 2)
}

func TestXLSXSources_Invalid(t *testing.T) {
	_, err := XLSXSources(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.Error(t, err)
}
