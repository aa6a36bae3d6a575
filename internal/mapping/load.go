package mapping

import (
	"fmt"
	"io"
	"strings"

	"skumap/internal/model"
	"skumap/internal/tabular"
)

// Mapping file column names.
const (
	ColumnSKU  = "SKU"
	ColumnMSKU = "MSKU"
)

// MappingLoadError reports a mapping file that could not be loaded.
// The table is left unchanged when it is returned.
type MappingLoadError struct {
	Source  string
	Missing []string
	Err     error
}

func (e *MappingLoadError) Error() string {
	var b strings.Builder
	b.WriteString("load mapping")
	if e.Source != "" {
		b.WriteString(" " + e.Source)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing column(s) %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *MappingLoadError) Unwrap() error { return e.Err }

// LoadResult summarizes a bulk load.
type LoadResult struct {
	Loaded  int
	Skipped int
}

// LoadFile replaces the table with the mappings in a CSV or XLSX file.
func (t *Table) LoadFile(path string) (LoadResult, error) {
	tbl, err := tabular.ReadFile(path)
	if err != nil {
		return LoadResult{}, &MappingLoadError{Source: path, Err: err}
	}
	return t.load(path, tbl)
}

// Load replaces the table with the mappings read from r.
func (t *Table) Load(r io.Reader, format tabular.Format) (LoadResult, error) {
	tbl, err := tabular.Read(r, format)
	if err != nil {
		return LoadResult{}, &MappingLoadError{Err: err}
	}
	return t.load("", tbl)
}

// LoadTable replaces the table with the mappings in an already parsed table.
func (t *Table) LoadTable(tbl model.Table) (LoadResult, error) {
	return t.load("", tbl)
}

func (t *Table) load(source string, tbl model.Table) (LoadResult, error) {
	entries, skipped, err := ParseEntries(tbl)
	if err != nil {
		if le, ok := err.(*MappingLoadError); ok {
			le.Source = source
		}
		return LoadResult{}, err
	}
	// A bulk load does not advance seq; callers snapshot after loading.
	t.Replace(entries, t.LastSeq())
	res := LoadResult{Loaded: t.Len(), Skipped: skipped}
	t.logger.Info("loaded sku mappings", "source", source, "mappings", res.Loaded, "skipped_rows", res.Skipped)
	return res, nil
}

// ParseEntries extracts mapping entries from a two column SKU/MSKU table.
// Rows with an empty SKU or MSKU are skipped and counted.
func ParseEntries(tbl model.Table) ([]model.MappingEntry, int, error) {
	skuCol, okSKU := findColumn(tbl.Columns, ColumnSKU)
	mskuCol, okMSKU := findColumn(tbl.Columns, ColumnMSKU)
	var missing []string
	if !okSKU {
		missing = append(missing, ColumnSKU)
	}
	if !okMSKU {
		missing = append(missing, ColumnMSKU)
	}
	if len(missing) > 0 {
		return nil, 0, &MappingLoadError{Missing: missing}
	}

	entries := make([]model.MappingEntry, 0, len(tbl.Rows))
	skipped := 0
	for _, row := range tbl.Rows {
		sku := model.Text(row[skuCol])
		msku := model.Text(row[mskuCol])
		if sku == "" || msku == "" {
			skipped++
			continue
		}
		entries = append(entries, model.MappingEntry{SKU: sku, MasterID: msku})
	}
	return entries, skipped, nil
}

func findColumn(cols []string, want string) (string, bool) {
	for _, c := range cols {
		if c == want {
			return c, true
		}
	}
	for _, c := range cols {
		if strings.EqualFold(strings.TrimSpace(c), want) {
			return c, true
		}
	}
	return "", false
}

// EntriesTable renders entries as a SKU/MSKU table.
func EntriesTable(entries []model.MappingEntry) model.Table {
	t := model.Table{Columns: []string{ColumnSKU, ColumnMSKU}, Rows: make([]model.Row, 0, len(entries))}
	for _, e := range entries {
		t.Rows = append(t.Rows, model.Row{ColumnSKU: e.SKU, ColumnMSKU: e.MasterID})
	}
	return t
}

// ExportFile writes the current mappings to a CSV or XLSX file.
func (t *Table) ExportFile(path string) error {
	entries := t.Entries()
	if err := tabular.WriteFile(path, EntriesTable(entries)); err != nil {
		return fmt.Errorf("export mapping: %w", err)
	}
	t.logger.Info("exported sku mappings", "path", path, "mappings", len(entries))
	return nil
}

// Export writes the current mappings to w.
func (t *Table) Export(w io.Writer, format tabular.Format) error {
	return tabular.Write(w, EntriesTable(t.Entries()), format)
}

// BatchMap resolves each SKU, returning a nil master id for unmapped ones.
func BatchMap(l Lookup, skus []string) map[string]*string {
	out := make(map[string]*string, len(skus))
	for _, s := range skus {
		if m, ok := l.Lookup(s); ok {
			m := m
			out[s] = &m
		} else {
			out[s] = nil
		}
	}
	return out
}
