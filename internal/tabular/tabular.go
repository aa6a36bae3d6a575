// Package tabular reads and writes model.Table values as CSV or XLSX files.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"skumap/internal/model"
)

// Format is a supported file format.
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

// DefaultSheet is the sheet name used when writing spreadsheets.
const DefaultSheet = "Sheet1"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FormatFromPath picks the format from a file extension. Anything that is
// not .csv is treated as a spreadsheet.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return CSV
	}
	return XLSX
}

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return CSV, nil
	case "xlsx", "excel":
		return XLSX, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// ReadFile reads a table from path, choosing the format by extension.
func ReadFile(path string) (model.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Table{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, FormatFromPath(path))
}

// Read reads a table in the given format. The first row is the header.
func Read(r io.Reader, format Format) (model.Table, error) {
	switch format {
	case CSV:
		return ReadCSV(r)
	case XLSX:
		return ReadXLSX(r, "")
	default:
		return model.Table{}, fmt.Errorf("unsupported format: %s", format)
	}
}

// ReadCSV reads comma separated values. Cells stay strings.
func ReadCSV(r io.Reader) (model.Table, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return model.Table{}, fmt.Errorf("read csv: %w", err)
	}
	b = bytes.TrimPrefix(b, utf8BOM)
	cr := csv.NewReader(bytes.NewReader(b))
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return model.Table{}, fmt.Errorf("parse csv: %w", err)
	}
	return fromRecords(records, nil), nil
}

// ReadXLSX reads the named sheet, or the first sheet when sheet is empty.
// Cells formatted as dates come back as time.Time; other cells keep their
// raw stored text.
func ReadXLSX(r io.Reader, sheet string) (model.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return model.Table{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return model.Table{}, fmt.Errorf("xlsx has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return model.Table{}, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	dc := newDateCells(f, sheet)
	return fromRecords(rows, dc.value), nil
}

// dateCells converts date serials using the cell's number format.
type dateCells struct {
	f        *excelize.File
	sheet    string
	date1904 bool
	styles   map[int]bool
}

func newDateCells(f *excelize.File, sheet string) *dateCells {
	dc := &dateCells{f: f, sheet: sheet, styles: map[int]bool{}}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		dc.date1904 = *props.Date1904
	}
	return dc
}

// value is called with zero-based positions; row 0 is the header.
func (dc *dateCells) value(row, col int, raw string) any {
	if row == 0 || strings.TrimSpace(raw) == "" {
		return raw
	}
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	cell, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return raw
	}
	idx, err := dc.f.GetCellStyle(dc.sheet, cell)
	if err != nil || !dc.isDateStyle(idx) {
		return raw
	}
	t, err := excelize.ExcelDateToTime(serial, dc.date1904)
	if err != nil {
		return raw
	}
	return t
}

func (dc *dateCells) isDateStyle(idx int) bool {
	if v, ok := dc.styles[idx]; ok {
		return v
	}
	v := false
	if st, err := dc.f.GetStyle(idx); err == nil && st != nil {
		if st.CustomNumFmt != nil {
			v = isDateFormat(*st.CustomNumFmt)
		} else {
			v = isBuiltinDateFormat(st.NumFmt)
		}
	}
	dc.styles[idx] = v
	return v
}

// isBuiltinDateFormat covers the built-in date and time number formats.
func isBuiltinDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22, id >= 27 && id <= 36, id >= 45 && id <= 47, id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormat reports whether a custom format code renders a date or time.
// Quoted literals, escapes and bracketed sections are ignored.
func isDateFormat(code string) bool {
	inQuote, inBracket, escaped := false, false, false
	for _, r := range strings.ToLower(code) {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		case r == 'y', r == 'd', r == 'h', r == 's':
			return true
		}
	}
	return false
}

// fromRecords builds a table from string records. cell, when set, converts
// each raw cell value.
func fromRecords(records [][]string, cell func(row, col int, raw string) any) model.Table {
	if len(records) == 0 {
		return model.Table{}
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	t := model.Table{Columns: header, Rows: make([]model.Row, 0, len(records)-1)}
	for r, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row := make(model.Row, len(header))
		for i, col := range header {
			if i >= len(rec) {
				continue
			}
			if cell != nil {
				row[col] = cell(r+1, i, rec[i])
			} else {
				row[col] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// WriteFile writes t to path, choosing the format by extension.
func WriteFile(path string, t model.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(f, t, FormatFromPath(path)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Write writes t in the given format.
func Write(w io.Writer, t model.Table, format Format) error {
	switch format {
	case CSV:
		return WriteCSV(w, t)
	case XLSX:
		return WriteXLSX(w, t, DefaultSheet)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// WriteCSV writes a header line followed by one line per row.
func WriteCSV(w io.Writer, t model.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, c := range t.Columns {
			rec[i] = model.Text(row[c])
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes t to a single sheet, keeping numbers and dates typed.
func WriteXLSX(w io.Writer, t model.Table, sheet string) error {
	f := excelize.NewFile()
	defer f.Close()
	if sheet != DefaultSheet {
		if err := f.SetSheetName(DefaultSheet, sheet); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	}
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		vals := make([]any, len(t.Columns))
		for j, c := range t.Columns {
			vals[j] = xlsxValue(row[c])
		}
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func xlsxValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case decimal.Decimal:
		return x.InexactFloat64()
	case time.Time:
		// Spreadsheet dates carry no zone; keep offset dates as text.
		if _, off := x.Zone(); off == 0 && !x.IsZero() {
			return x.UTC()
		}
		return model.FormatDate(x)
	case *string:
		if x == nil {
			return ""
		}
		return *x
	default:
		return v
	}
}
