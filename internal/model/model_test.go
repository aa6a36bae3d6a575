package model

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMissing(t *testing.T) {
	for _, v := range []any{nil, "", "  ", "NaN", "null", "N/A", math.NaN()} {
		assert.True(t, IsMissing(v), "%#v", v)
	}
	for _, v := range []any{"0", 0, 0.0, "SKU1", false} {
		assert.False(t, IsMissing(v), "%#v", v)
	}
}

func TestParseDate(t *testing.T) {
	cases := map[string]time.Time{
		"2023-01-01":                time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		"2023-01-02 10:30:00":       time.Date(2023, 1, 2, 10, 30, 0, 0, time.UTC),
		"2023-01-03T08:00:00Z":      time.Date(2023, 1, 3, 8, 0, 0, 0, time.UTC),
		"01/04/2023":                time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC),
		"Jan 5, 2023":               time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC),
		"2023-01-06 12:00:00 +0000": time.Date(2023, 1, 6, 12, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, ok := ParseDate(in)
		require.True(t, ok, in)
		assert.True(t, want.Equal(got), "%s: got %v", in, got)
	}

	_, ok := ParseDate("not a date")
	assert.False(t, ok)
	_, ok = ParseDate(nil)
	assert.False(t, ok)
	_, ok = ParseDate(time.Time{})
	assert.False(t, ok)
}

func TestParseDecimalAndInt(t *testing.T) {
	d, ok := ParseDecimal("$1,234.50")
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("1234.5")))

	d, ok = ParseDecimal(10.0)
	require.True(t, ok)
	assert.Equal(t, "10", d.String())

	_, ok = ParseDecimal("ten")
	assert.False(t, ok)
	_, ok = ParseDecimal(math.Inf(1))
	assert.False(t, ok)

	n, ok := ParseInt("2.9")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	n, ok = ParseInt(-1.5)
	require.True(t, ok)
	assert.Equal(t, int64(-1), n)

	_, ok = ParseInt("")
	assert.False(t, ok)

	n, ok = ParseInt("9223372036854775807")
	require.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), n)
	for _, v := range []any{"18446744073709551621", "-9223372036854775809", 1e19} {
		_, ok = ParseInt(v)
		assert.False(t, ok, "%v", v)
	}
}

func TestFormatDate_KeepsOffsets(t *testing.T) {
	assert.Equal(t, "2023-01-01", FormatDate(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2023-01-01T10:30:00Z", FormatDate(time.Date(2023, 1, 1, 10, 30, 0, 0, time.UTC)))

	local := time.Date(2023, 1, 1, 0, 0, 0, 0, time.FixedZone("", 5*3600))
	s := FormatDate(local)
	assert.Equal(t, "2023-01-01T00:00:00+05:00", s)
	back, ok := ParseDate(s)
	require.True(t, ok)
	assert.True(t, back.Equal(local), "round trip keeps the instant")
	_, off := back.Zone()
	assert.Equal(t, 5*3600, off)
}

func TestText(t *testing.T) {
	assert.Equal(t, "A1", Text("  A1 "))
	assert.Equal(t, "12345", Text(12345.0))
	assert.Equal(t, "", Text(nil))
	assert.Equal(t, "2023-01-01", Text(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestMappedTableColumns(t *testing.T) {
	recs := []MappedRecord{
		NewMapped(CanonicalRecord{OrderNumber: "O1", SKU: "S1", Source: "amazon", Extra: map[string]string{"category": "Toys"}}, "M1", true),
		NewMapped(CanonicalRecord{OrderNumber: "O2", SKU: "S2"}, "", false),
	}
	tbl := MappedTable(recs)
	assert.Equal(t, []string{
		FieldOrderNumber, FieldOrderDate, FieldSKU, FieldQuantity, FieldUnitPrice, FieldTotalPrice,
		FieldSource, "category", FieldMasterID, FieldMappingStatus,
	}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "M1", tbl.Rows[0][FieldMasterID])
	assert.Equal(t, "Mapped", tbl.Rows[0][FieldMappingStatus])
	assert.Nil(t, tbl.Rows[1][FieldMasterID])
	assert.Equal(t, "Missing", tbl.Rows[1][FieldMappingStatus])
}

func TestNewMappedConsistency(t *testing.T) {
	m := NewMapped(CanonicalRecord{SKU: "S"}, "M", true)
	require.NotNil(t, m.MasterID)
	assert.Equal(t, Mapped, m.Status)
	assert.Equal(t, "M", m.ProductKey())

	u := NewMapped(CanonicalRecord{SKU: "S"}, "ignored", false)
	assert.Nil(t, u.MasterID)
	assert.Equal(t, Missing, u.Status)
	assert.Equal(t, "S", u.ProductKey())
}
