package quality

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"skumap/internal/model"
)

// Negative counts negative numeric values per field.
type Negative struct {
	Quantity   int `json:"quantity"`
	UnitPrice  int `json:"unit_price"`
	TotalPrice int `json:"total_price"`
}

// Metrics is a data quality profile of one table or record set.
type Metrics struct {
	Rows       int            `json:"rows"`
	Duplicates int            `json:"duplicates"`
	Missing    map[string]int `json:"missing"`
	Negative   Negative       `json:"negative"`
	DateStart  *time.Time     `json:"date_start,omitempty"`
	DateEnd    *time.Time     `json:"date_end,omitempty"`
}

func newMetrics(rows int) Metrics {
	m := Metrics{Rows: rows, Missing: make(map[string]int, len(model.CanonicalFields))}
	for _, f := range model.CanonicalFields {
		m.Missing[f] = 0
	}
	return m
}

func (m *Metrics) observeDate(t time.Time) {
	if m.DateStart == nil || t.Before(*m.DateStart) {
		d := t
		m.DateStart = &d
	}
	if m.DateEnd == nil || t.After(*m.DateEnd) {
		d := t
		m.DateEnd = &d
	}
}

// FromTable profiles a raw canonical table before cleaning. Absent columns
// count as missing in every row; unparseable dates count as missing dates.
func FromTable(tbl model.Table) Metrics {
	m := newMetrics(len(tbl.Rows))
	seen := make(map[string]struct{}, len(tbl.Rows))
	for _, row := range tbl.Rows {
		k := rowKey(tbl.Columns, row)
		if _, dup := seen[k]; dup {
			m.Duplicates++
		} else {
			seen[k] = struct{}{}
		}

		for _, f := range model.CanonicalFields {
			if f == model.FieldOrderDate {
				continue
			}
			if model.IsMissing(row[f]) {
				m.Missing[f]++
			}
		}
		if d, ok := model.ParseDate(row[model.FieldOrderDate]); ok {
			m.observeDate(d)
		} else {
			m.Missing[model.FieldOrderDate]++
		}

		if q, ok := model.ParseDecimal(row[model.FieldQuantity]); ok && q.IsNegative() {
			m.Negative.Quantity++
		}
		if p, ok := model.ParseDecimal(row[model.FieldUnitPrice]); ok && p.IsNegative() {
			m.Negative.UnitPrice++
		}
		if p, ok := model.ParseDecimal(row[model.FieldTotalPrice]); ok && p.IsNegative() {
			m.Negative.TotalPrice++
		}
	}
	return m
}

// FromRecords profiles cleaned records.
func FromRecords(recs []model.CanonicalRecord) Metrics {
	m := newMetrics(len(recs))
	seen := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		k := recordKey(r)
		if _, dup := seen[k]; dup {
			m.Duplicates++
		} else {
			seen[k] = struct{}{}
		}
		if r.OrderNumber == "" {
			m.Missing[model.FieldOrderNumber]++
		}
		if r.SKU == "" {
			m.Missing[model.FieldSKU]++
		}
		if r.OrderDate.IsZero() {
			m.Missing[model.FieldOrderDate]++
		} else {
			m.observeDate(r.OrderDate)
		}
		if r.Quantity < 0 {
			m.Negative.Quantity++
		}
		if r.UnitPrice.IsNegative() {
			m.Negative.UnitPrice++
		}
		if r.TotalPrice.IsNegative() {
			m.Negative.TotalPrice++
		}
	}
	return m
}

// FromMapped profiles resolved records.
func FromMapped(recs []model.MappedRecord) Metrics {
	base := make([]model.CanonicalRecord, len(recs))
	for i := range recs {
		base[i] = recs[i].CanonicalRecord
	}
	return FromRecords(base)
}

// CoverageStats summarizes how many distinct SKUs resolved.
type CoverageStats struct {
	TotalSKUs    int     `json:"total_skus"`
	MappedSKUs   int     `json:"mapped_skus"`
	UnmappedSKUs int     `json:"unmapped_skus"`
	Percent      float64 `json:"coverage_percent"`
}

// Coverage counts distinct SKUs in recs and the share that mapped.
// An empty input has zero coverage.
func Coverage(recs []model.MappedRecord) CoverageStats {
	mapped := map[string]bool{}
	for _, r := range recs {
		mapped[r.SKU] = mapped[r.SKU] || r.Status == model.Mapped
	}
	var s CoverageStats
	s.TotalSKUs = len(mapped)
	for _, ok := range mapped {
		if ok {
			s.MappedSKUs++
		}
	}
	s.UnmappedSKUs = s.TotalSKUs - s.MappedSKUs
	if s.TotalSKUs > 0 {
		s.Percent = float64(s.MappedSKUs) / float64(s.TotalSKUs) * 100
	}
	return s
}

func rowKey(cols []string, row model.Row) string {
	names := append([]string(nil), cols...)
	sort.Strings(names)
	var b strings.Builder
	for _, c := range names {
		fmt.Fprintf(&b, "%q=%q|", c, model.Text(row[c]))
	}
	return b.String()
}

func recordKey(r model.CanonicalRecord) string {
	return rowKey(recordColumns(r), r.Row())
}

func recordColumns(r model.CanonicalRecord) []string {
	cols := append([]string{model.FieldSource}, model.CanonicalFields...)
	for k := range r.Extra {
		cols = append(cols, k)
	}
	return cols
}
