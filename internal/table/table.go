// Package table reads uploaded CSV and XLSX spreadsheets into a header row and
// string-keyed data rows.
package table

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnsupportedFileType is returned for uploads that are neither CSV nor XLSX.
var ErrUnsupportedFileType = errors.New("unsupported file type: only .csv and .xlsx files are supported")

// Format identifies a supported spreadsheet format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Table is a parsed spreadsheet. Rows are positionally aligned with Header;
// short rows are padded with empty strings when converted to records.
type Table struct {
	Header []string
	Rows   [][]string
}

// DetectFormat maps a filename to a Format by its extension, ignoring case.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Wrapf(ErrUnsupportedFileType, "table: %q", filename)
	}
}

// Options carries the per-format parser settings used by Read.
type Options struct {
	CSV  CSVOptions
	XLSX XLSXOptions
}

// Read parses r according to the extension of filename.
func Read(ctx context.Context, filename string, r io.Reader, opts Options) (*Table, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatXLSX:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, eris.Wrap(err, "table: read xlsx upload")
		}
		return ReadXLSX(data, opts.XLSX)
	default:
		return ReadCSV(ctx, r, opts.CSV)
	}
}

// Records returns each row keyed by its raw header string. When a header
// repeats, the rightmost column wins. Cells past the header are dropped.
func (t *Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Header))
		for i, h := range t.Header {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		out = append(out, rec)
	}
	return out
}

// fromRows splits the first row off as the header and drops blank rows.
func fromRows(rows [][]string) *Table {
	t := &Table{}
	if len(rows) == 0 {
		return t
	}
	t.Header = rows[0]
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
