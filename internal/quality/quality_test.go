package quality

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skumap/internal/model"
)

func TestFromTable(t *testing.T) {
	tbl := model.Table{
		Columns: []string{model.FieldOrderNumber, model.FieldOrderDate, model.FieldSKU, model.FieldQuantity, model.FieldUnitPrice},
		Rows: []model.Row{
			{model.FieldOrderNumber: "1", model.FieldOrderDate: "2023-01-05", model.FieldSKU: "A", model.FieldQuantity: -1, model.FieldUnitPrice: 2},
			{model.FieldOrderNumber: "1", model.FieldOrderDate: "2023-01-05", model.FieldSKU: "A", model.FieldQuantity: -1, model.FieldUnitPrice: 2},
			{model.FieldOrderNumber: "2", model.FieldOrderDate: "garbage", model.FieldSKU: "", model.FieldQuantity: "x", model.FieldUnitPrice: "-3.5"},
			{model.FieldOrderNumber: "3", model.FieldOrderDate: "2023-01-02", model.FieldSKU: "B", model.FieldUnitPrice: "NaN"},
		},
	}
	m := FromTable(tbl)

	assert.Equal(t, 4, m.Rows)
	assert.Equal(t, 1, m.Duplicates)
	assert.Equal(t, map[string]int{
		model.FieldOrderNumber: 0,
		model.FieldOrderDate:   1,
		model.FieldSKU:         1,
		model.FieldQuantity:    1,
		model.FieldUnitPrice:   1,
		model.FieldTotalPrice:  4,
	}, m.Missing)
	assert.Equal(t, Negative{Quantity: 2, UnitPrice: 1}, m.Negative)
	require.NotNil(t, m.DateStart)
	require.NotNil(t, m.DateEnd)
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), *m.DateStart)
	assert.Equal(t, time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), *m.DateEnd)
}

func TestFromTable_Empty(t *testing.T) {
	m := FromTable(model.Table{})
	assert.Zero(t, m.Rows)
	assert.Nil(t, m.DateStart)
	assert.Nil(t, m.DateEnd)
}

func TestFromMapped(t *testing.T) {
	r := model.CanonicalRecord{OrderNumber: "1", SKU: "A", OrderDate: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
		Quantity: 1, UnitPrice: decimal.NewFromInt(1), TotalPrice: decimal.NewFromInt(1)}
	m := FromMapped([]model.MappedRecord{model.NewMapped(r, "M", true), model.NewMapped(r, "", false)})
	assert.Equal(t, 2, m.Rows)
	assert.Equal(t, 1, m.Duplicates)
	assert.Equal(t, 0, m.Missing[model.FieldSKU])
	assert.Equal(t, *m.DateStart, *m.DateEnd)
}

func TestCoverage(t *testing.T) {
	rec := func(sku string) model.CanonicalRecord { return model.CanonicalRecord{SKU: sku} }
	recs := []model.MappedRecord{
		model.NewMapped(rec("A"), "M1", true),
		model.NewMapped(rec("A"), "M1", true),
		model.NewMapped(rec("B"), "", false),
		model.NewMapped(rec("C"), "M2", true),
		model.NewMapped(rec("D"), "", false),
	}
	s := Coverage(recs)
	assert.Equal(t, CoverageStats{TotalSKUs: 4, MappedSKUs: 2, UnmappedSKUs: 2, Percent: 50}, s)
	assert.Equal(t, CoverageStats{}, Coverage(nil))
}
