package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skumap/internal/model"
)

func valid() model.CanonicalRecord {
	return model.CanonicalRecord{
		OrderNumber: "A1",
		OrderDate:   time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		SKU:         "SKU1",
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(10),
		TotalPrice:  decimal.NewFromInt(10),
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, Validate([]model.CanonicalRecord{valid(), valid()}))
	assert.NoError(t, Validate(nil))
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	bad := valid()
	bad.OrderNumber = "  "
	bad.SKU = ""
	bad.OrderDate = time.Time{}
	neg := valid()
	neg.Quantity = -1
	neg.UnitPrice = decimal.NewFromInt(-2)
	neg.TotalPrice = decimal.NewFromInt(-2)

	err := Validate([]model.CanonicalRecord{valid(), bad, neg})
	var sve *SchemaViolationError
	require.True(t, errors.As(err, &sve))
	assert.Equal(t, []Violation{
		{Row: 1, Field: model.FieldOrderNumber, Reason: "is empty"},
		{Row: 1, Field: model.FieldOrderDate, Reason: "is not a valid date"},
		{Row: 1, Field: model.FieldSKU, Reason: "is empty"},
		{Row: 2, Field: model.FieldQuantity, Reason: "is negative"},
		{Row: 2, Field: model.FieldUnitPrice, Reason: "is negative"},
		{Row: 2, Field: model.FieldTotalPrice, Reason: "is negative"},
	}, sve.Violations)
	assert.Contains(t, err.Error(), "6 problem(s)")
	assert.Contains(t, err.Error(), "; ...")
}

func TestViolation_RowIndexesValidatedRecords(t *testing.T) {
	bad := valid()
	bad.SKU = " "
	err := Validate([]model.CanonicalRecord{valid(), valid(), bad})
	var sve *SchemaViolationError
	require.True(t, errors.As(err, &sve))
	require.Len(t, sve.Violations, 1)
	assert.Equal(t, 2, sve.Violations[0].Row)
	assert.Equal(t, "schema violation: 1 problem(s): record 2: sku is empty", err.Error())
}
