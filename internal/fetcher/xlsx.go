package fetcher

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/covid-loader/internal/loader"
)

// sheetSource replays the rows of one worksheet. The first row is the header.
type sheetSource struct {
	header []string
	rows   [][]string
	next   int
}

func (s *sheetSource) Header() []string { return s.header }

func (s *sheetSource) Next() ([]string, error) {
	if s.next >= len(s.rows) {
		return nil, io.EOF
	}
	s.next++
	return s.rows[s.next-1], nil
}

// SheetName returns the load name of sheet n of the workbook at path:
// "<base>_sheet_<n>.csv", counting from 0.
func SheetName(path string, n int) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_sheet_%d.csv", base, n)
}

// XLSXSources opens a workbook and returns one input per non-empty sheet.
func XLSXSources(path string) ([]loader.Input, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}

	var out []loader.Input
	for i, sheet := range f.Sheets {
		if len(sheet.Rows) == 0 {
			continue
		}
		src := &sheetSource{header: rowToStrings(sheet.Rows[0])}
		for _, row := range sheet.Rows[1:] {
			src.rows = append(src.rows, rowToStrings(row))
		}
		out = append(out, loader.Input{Name: SheetName(path, i), Source: src})
	}
	if len(out) == 0 {
		return nil, eris.Errorf("xlsx: %s has no rows", path)
	}
	return out, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
