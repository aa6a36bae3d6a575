// Package schema checks cleaned records against the canonical record contract.
package schema

import (
	"fmt"
	"strings"

	"skumap/internal/model"
)

// Violation is one failed check on one record.
type Violation struct {
	// Row is the zero-based index into the records passed to Validate.
	// Cleaning drops and deduplicates rows first, so it is not the row
	// number of the source export.
	Row    int
	Field  string
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("record %d: %s %s", v.Row, v.Field, v.Reason)
}

// SchemaViolationError lists every violation found in a batch.
type SchemaViolationError struct {
	Violations []Violation
}

func (e *SchemaViolationError) Error() string {
	const shown = 5
	parts := make([]string, 0, shown)
	for i, v := range e.Violations {
		if i == shown {
			break
		}
		parts = append(parts, v.String())
	}
	msg := fmt.Sprintf("schema violation: %d problem(s): %s", len(e.Violations), strings.Join(parts, "; "))
	if len(e.Violations) > shown {
		msg += "; ..."
	}
	return msg
}

// Validate returns nil when every record satisfies the contract,
// otherwise a *SchemaViolationError.
func Validate(records []model.CanonicalRecord) error {
	var vs []Violation
	add := func(i int, field, reason string) {
		vs = append(vs, Violation{Row: i, Field: field, Reason: reason})
	}
	for i, r := range records {
		if strings.TrimSpace(r.OrderNumber) == "" {
			add(i, model.FieldOrderNumber, "is empty")
		}
		if r.OrderDate.IsZero() {
			add(i, model.FieldOrderDate, "is not a valid date")
		}
		if strings.TrimSpace(r.SKU) == "" {
			add(i, model.FieldSKU, "is empty")
		}
		if r.Quantity < 0 {
			add(i, model.FieldQuantity, "is negative")
		}
		if r.UnitPrice.IsNegative() {
			add(i, model.FieldUnitPrice, "is negative")
		}
		if r.TotalPrice.IsNegative() {
			add(i, model.FieldTotalPrice, "is negative")
		}
	}
	if len(vs) > 0 {
		return &SchemaViolationError{Violations: vs}
	}
	return nil
}
