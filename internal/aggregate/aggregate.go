// Package aggregate answers parsed analytics intents over mapped sales records.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"skumap/internal/intent"
	"skumap/internal/model"
)

// CategoryField is the pass-through column grouped by category performance.
const CategoryField = "category"

// Uncategorized labels records without a category value.
const Uncategorized = "Uncategorized"

const day = 24 * time.Hour

// Bucket holds the sums for one group key.
type Bucket struct {
	Key         string          `json:"key"`
	WindowStart time.Time       `json:"windowStart,omitempty"`
	Revenue     decimal.Decimal `json:"revenue"`
	Quantity    int64           `json:"quantity"`
	Lines       int             `json:"lines"`
}

// Report is the answer to one intent.
type Report struct {
	Kind    string   `json:"kind"`
	Buckets []Bucket `json:"buckets"`
}

// WindowStart floors t to a multiple of size in UTC. A non-positive size means one day.
func WindowStart(t time.Time, size time.Duration) time.Time {
	if size <= 0 {
		size = day
	}
	return t.UTC().Truncate(size)
}

type accumulator struct {
	order   []string
	buckets map[string]*Bucket
}

func newAccumulator() *accumulator {
	return &accumulator{buckets: map[string]*Bucket{}}
}

func (a *accumulator) add(key string, ws time.Time, r model.MappedRecord) {
	b, ok := a.buckets[key]
	if !ok {
		b = &Bucket{Key: key, WindowStart: ws, Revenue: decimal.Zero}
		a.buckets[key] = b
		a.order = append(a.order, key)
	}
	b.Revenue = b.Revenue.Add(r.TotalPrice)
	b.Quantity += r.Quantity
	b.Lines++
}

func (a *accumulator) list() []Bucket {
	out := make([]Bucket, 0, len(a.order))
	for _, k := range a.order {
		out = append(out, *a.buckets[k])
	}
	return out
}

// byRevenue sorts descending by revenue, then ascending by key.
func byRevenue(bs []Bucket) {
	sort.SliceStable(bs, func(i, j int) bool {
		if c := bs[i].Revenue.Cmp(bs[j].Revenue); c != 0 {
			return c > 0
		}
		return bs[i].Key < bs[j].Key
	})
}

// DailyTrend sums revenue per UTC day, oldest first.
func DailyTrend(recs []model.MappedRecord, f intent.Filter, now time.Time) []Bucket {
	acc := newAccumulator()
	for _, r := range recs {
		if !f.Contains(r.OrderDate, now) {
			continue
		}
		ws := WindowStart(r.OrderDate, day)
		acc.add(model.FormatDate(ws), ws, r)
	}
	out := acc.list()
	sort.SliceStable(out, func(i, j int) bool { return out[i].WindowStart.Before(out[j].WindowStart) })
	return out
}

// TopProducts ranks products by revenue. Products are keyed by master id,
// falling back to the listing SKU when unmapped. limit <= 0 keeps all.
func TopProducts(recs []model.MappedRecord, f intent.Filter, limit int, now time.Time) []Bucket {
	acc := newAccumulator()
	for _, r := range recs {
		if f.Contains(r.OrderDate, now) {
			acc.add(r.ProductKey(), time.Time{}, r)
		}
	}
	out := acc.list()
	byRevenue(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CategoryPerformance sums revenue and quantity per category.
func CategoryPerformance(recs []model.MappedRecord, f intent.Filter, now time.Time) []Bucket {
	acc := newAccumulator()
	for _, r := range recs {
		if !f.Contains(r.OrderDate, now) {
			continue
		}
		cat := r.Extra[CategoryField]
		if cat == "" {
			cat = Uncategorized
		}
		acc.add(cat, time.Time{}, r)
	}
	out := acc.list()
	byRevenue(out)
	return out
}

// Answer dispatches on the intent variant.
func Answer(in intent.Intent, recs []model.MappedRecord, now time.Time) (Report, error) {
	switch v := in.(type) {
	case intent.SalesTrend:
		return Report{Kind: v.Kind(), Buckets: DailyTrend(recs, v.Filter, now)}, nil
	case intent.TopProducts:
		return Report{Kind: v.Kind(), Buckets: TopProducts(recs, v.Filter, v.Limit, now)}, nil
	case intent.CategoryPerformance:
		return Report{Kind: v.Kind(), Buckets: CategoryPerformance(recs, v.Filter, now)}, nil
	default:
		return Report{}, fmt.Errorf("unsupported intent %T", in)
	}
}

func keyColumn(kind string) string {
	switch kind {
	case intent.SalesTrend{}.Kind():
		return model.FieldOrderDate
	case intent.CategoryPerformance{}.Kind():
		return CategoryField
	default:
		return "product"
	}
}

// Table renders the report for export.
func (r Report) Table() model.Table {
	key := keyColumn(r.Kind)
	t := model.Table{Columns: []string{key, "total_revenue", "total_quantity", "lines"}}
	for _, b := range r.Buckets {
		t.Rows = append(t.Rows, model.Row{
			key:              b.Key,
			"total_revenue":  b.Revenue.StringFixed(2),
			"total_quantity": b.Quantity,
			"lines":          b.Lines,
		})
	}
	return t
}
