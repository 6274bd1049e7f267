package table

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// dateLayout renders date-formatted numeric cells.
const dateLayout = "2006-01-02"

// XLSXOptions configures the XLSX parser.
type XLSXOptions struct {
	SheetName string // empty selects the first sheet
}

// ReadXLSX parses an in-memory XLSX workbook. The first row of the selected
// sheet is the header.
func ReadXLSX(data []byte, opts XLSXOptions) (*Table, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row, f.Date1904))
	}
	return fromRows(rows), nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}

	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row, date1904 bool) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cellValue(cell, date1904)
	}
	return cells
}

// cellValue returns numeric cells unformatted, so "#,##0" weights parse,
// and date-formatted cells as YYYY-MM-DD. Other cells use their display text.
func cellValue(cell *xlsx.Cell, date1904 bool) string {
	if cell == nil {
		return ""
	}
	if cell.Type() != xlsx.CellTypeNumeric || cell.Value == "" {
		return cell.String()
	}
	if cell.IsTime() {
		t, err := cell.GetTime(date1904)
		if err != nil {
			return cell.String()
		}
		return t.Format(dateLayout)
	}
	return cell.Value
}
