package clean

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"skumap/internal/model"
)

// Required lists the columns a table must carry before it can be cleaned.
var Required = []string{
	model.FieldOrderNumber,
	model.FieldOrderDate,
	model.FieldSKU,
	model.FieldQuantity,
	model.FieldUnitPrice,
}

// MissingColumnError is returned when a required column is absent.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing required column %q", e.Column)
}

// Result is the outcome of cleaning one table.
type Result struct {
	Records []model.CanonicalRecord
	// ExcludedDates holds input row indexes dropped for a missing or unparseable order date.
	ExcludedDates []int
	Duplicates    int
	Filled        int
	Recomputed    int
	Clamped       int
}

// Clean repairs a canonical table into records satisfying the record invariants:
// a valid order date, non-negative quantity and prices, and no duplicate rows.
// Clean is idempotent over its own output.
func Clean(tbl model.Table) (Result, error) {
	for _, c := range Required {
		if !tbl.HasColumn(c) {
			return Result{}, &MissingColumnError{Column: c}
		}
	}
	extras := extraColumns(tbl.Columns)

	var res Result
	seen := make(map[string]struct{}, len(tbl.Rows))
	parsed := make([]rawRecord, 0, len(tbl.Rows))
	for i, row := range tbl.Rows {
		date, ok := model.ParseDate(row[model.FieldOrderDate])
		if !ok {
			res.ExcludedDates = append(res.ExcludedDates, i)
			continue
		}
		raw := parseRow(row, date, extras)
		k := raw.key()
		if _, dup := seen[k]; dup {
			res.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		parsed = append(parsed, raw)
	}

	final := make(map[string]struct{}, len(parsed))
	res.Records = make([]model.CanonicalRecord, 0, len(parsed))
	for _, raw := range parsed {
		rec := raw.repair(&res)
		k := recordKey(rec)
		if _, dup := final[k]; dup {
			res.Duplicates++
			continue
		}
		final[k] = struct{}{}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

// rawRecord is a row after coercion but before repair. The ok flags remember
// whether a numeric cell was present.
type rawRecord struct {
	rec             model.CanonicalRecord
	qty             int64
	qtyOK           bool
	unit, total     decimal.Decimal
	unitOK, totalOK bool
}

func parseRow(row model.Row, date time.Time, extras []string) rawRecord {
	r := rawRecord{rec: model.CanonicalRecord{
		Source:      model.Text(row[model.FieldSource]),
		OrderNumber: model.Text(row[model.FieldOrderNumber]),
		OrderDate:   date,
		SKU:         model.Text(row[model.FieldSKU]),
	}}
	r.qty, r.qtyOK = model.ParseInt(row[model.FieldQuantity])
	r.unit, r.unitOK = model.ParseDecimal(row[model.FieldUnitPrice])
	r.total, r.totalOK = model.ParseDecimal(row[model.FieldTotalPrice])
	for _, c := range extras {
		if v := model.Text(row[c]); v != "" {
			if r.rec.Extra == nil {
				r.rec.Extra = make(map[string]string, len(extras))
			}
			r.rec.Extra[c] = v
		}
	}
	return r
}

func (r rawRecord) key() string {
	var b strings.Builder
	writeBase(&b, r.rec)
	fmt.Fprintf(&b, "|%t:%d|%t:%s|%t:%s", r.qtyOK, r.qty, r.unitOK, r.unit.String(), r.totalOK, r.total.String())
	writeExtra(&b, r.rec.Extra)
	return b.String()
}

// repair fills, recomputes and clamps numeric fields in that order.
func (r rawRecord) repair(res *Result) model.CanonicalRecord {
	rec := r.rec
	if !r.qtyOK || !r.unitOK || !r.totalOK {
		res.Filled++
	}
	rec.Quantity = r.qty
	rec.UnitPrice = r.unit
	rec.TotalPrice = r.total

	if rec.TotalPrice.IsZero() {
		rec.TotalPrice = lineTotal(rec)
		if !rec.TotalPrice.IsZero() {
			res.Recomputed++
		}
	}

	clamped := false
	if rec.Quantity < 0 {
		rec.Quantity = 0
		clamped = true
	}
	if rec.UnitPrice.IsNegative() {
		rec.UnitPrice = decimal.Zero
		clamped = true
	}
	if rec.TotalPrice.IsNegative() {
		rec.TotalPrice = lineTotal(rec)
		clamped = true
	}
	if clamped {
		res.Clamped++
	}
	return rec
}

func lineTotal(rec model.CanonicalRecord) decimal.Decimal {
	return decimal.NewFromInt(rec.Quantity).Mul(rec.UnitPrice)
}

func recordKey(rec model.CanonicalRecord) string {
	var b strings.Builder
	writeBase(&b, rec)
	fmt.Fprintf(&b, "|%d|%s|%s", rec.Quantity, rec.UnitPrice.String(), rec.TotalPrice.String())
	writeExtra(&b, rec.Extra)
	return b.String()
}

func writeBase(b *strings.Builder, rec model.CanonicalRecord) {
	fmt.Fprintf(b, "%q|%q|%s|%q", rec.Source, rec.OrderNumber, rec.OrderDate.UTC().Format(time.RFC3339Nano), rec.SKU)
}

func writeExtra(b *strings.Builder, extra map[string]string) {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "|%q=%q", k, extra[k])
	}
}

// extraColumns returns pass-through columns: everything but canonical fields and source.
func extraColumns(cols []string) []string {
	var out []string
	for _, c := range cols {
		switch c {
		case model.FieldOrderNumber, model.FieldOrderDate, model.FieldSKU,
			model.FieldQuantity, model.FieldUnitPrice, model.FieldTotalPrice,
			model.FieldSource:
			continue
		}
		out = append(out, c)
	}
	return out
}
