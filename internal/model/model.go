package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical column names shared by adapters, the cleaner and exporters.
const (
	FieldOrderNumber = "order_number"
	FieldOrderDate   = "order_date"
	FieldSKU         = "sku"
	FieldQuantity    = "quantity"
	FieldUnitPrice   = "unit_price"
	FieldTotalPrice  = "total_price"

	FieldSource        = "source"
	FieldMasterID      = "master_id"
	FieldMappingStatus = "mapping_status"
)

// CanonicalFields lists the business fields of a canonical record in export order.
var CanonicalFields = []string{
	FieldOrderNumber,
	FieldOrderDate,
	FieldSKU,
	FieldQuantity,
	FieldUnitPrice,
	FieldTotalPrice,
}

// Row is one loosely typed input row keyed by column name.
type Row map[string]any

// Table is an in-memory batch as delivered by upstream file parsing.
// Columns keeps header order; rows may omit a column to mean "missing".
type Table struct {
	Columns []string
	Rows    []Row
}

// HasColumn reports whether name is one of the table's columns.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// CanonicalRecord is one sales line item after normalization and cleaning.
type CanonicalRecord struct {
	Source      string            `json:"source,omitempty"`
	OrderNumber string            `json:"order_number"`
	OrderDate   time.Time         `json:"order_date"`
	SKU         string            `json:"sku"`
	Quantity    int64             `json:"quantity"`
	UnitPrice   decimal.Decimal   `json:"unit_price"`
	TotalPrice  decimal.Decimal   `json:"total_price"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// MappingStatus tells whether a record's SKU resolved to a master id.
type MappingStatus string

const (
	Mapped  MappingStatus = "Mapped"
	Missing MappingStatus = "Missing"
)

// MappedRecord is a CanonicalRecord enriched by the resolver.
// Status is Mapped exactly when MasterID is non-nil.
type MappedRecord struct {
	CanonicalRecord
	MasterID *string       `json:"master_id"`
	Status   MappingStatus `json:"mapping_status"`
}

// MappingEntry is one SKU -> master id pair.
type MappingEntry struct {
	SKU      string `json:"sku"`
	MasterID string `json:"msku"`
}

// NewMapped builds a MappedRecord keeping Status and MasterID consistent.
func NewMapped(rec CanonicalRecord, masterID string, ok bool) MappedRecord {
	if !ok {
		return MappedRecord{CanonicalRecord: rec, Status: Missing}
	}
	id := masterID
	return MappedRecord{CanonicalRecord: rec, MasterID: &id, Status: Mapped}
}

// Date returns the order date. Used by merge ordering.
func (r CanonicalRecord) Date() time.Time { return r.OrderDate }

// Revenue returns the record's total price.
func (r CanonicalRecord) Revenue() decimal.Decimal { return r.TotalPrice }

// ProductKey is the master id when mapped, otherwise the listing SKU.
func (r MappedRecord) ProductKey() string {
	if r.MasterID != nil {
		return *r.MasterID
	}
	return r.SKU
}
