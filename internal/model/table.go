package model

import "sort"

// Row renders the record with canonical column names. Extra fields are
// added under their own names.
func (r CanonicalRecord) Row() Row {
	row := Row{
		FieldOrderNumber: r.OrderNumber,
		FieldOrderDate:   r.OrderDate,
		FieldSKU:         r.SKU,
		FieldQuantity:    r.Quantity,
		FieldUnitPrice:   r.UnitPrice,
		FieldTotalPrice:  r.TotalPrice,
	}
	if r.Source != "" {
		row[FieldSource] = r.Source
	}
	for k, v := range r.Extra {
		row[k] = v
	}
	return row
}

// Row renders the mapped record, adding master_id and mapping_status.
func (r MappedRecord) Row() Row {
	row := r.CanonicalRecord.Row()
	if r.MasterID != nil {
		row[FieldMasterID] = *r.MasterID
	} else {
		row[FieldMasterID] = nil
	}
	row[FieldMappingStatus] = string(r.Status)
	return row
}

// RecordsTable converts canonical records into a Table with a stable column order.
func RecordsTable(recs []CanonicalRecord) Table {
	t := Table{Columns: recordColumns(recs, nil), Rows: make([]Row, 0, len(recs))}
	for _, r := range recs {
		t.Rows = append(t.Rows, r.Row())
	}
	return t
}

// MappedTable converts mapped records into a Table ending with master_id and mapping_status.
func MappedTable(recs []MappedRecord) Table {
	base := make([]CanonicalRecord, len(recs))
	for i := range recs {
		base[i] = recs[i].CanonicalRecord
	}
	t := Table{
		Columns: recordColumns(base, []string{FieldMasterID, FieldMappingStatus}),
		Rows:    make([]Row, 0, len(recs)),
	}
	for _, r := range recs {
		t.Rows = append(t.Rows, r.Row())
	}
	return t
}

func recordColumns(recs []CanonicalRecord, tail []string) []string {
	cols := append([]string{}, CanonicalFields...)
	hasSource := false
	extra := map[string]struct{}{}
	for _, r := range recs {
		if r.Source != "" {
			hasSource = true
		}
		for k := range r.Extra {
			extra[k] = struct{}{}
		}
	}
	if hasSource {
		cols = append(cols, FieldSource)
	}
	names := make([]string, 0, len(extra))
	for k := range extra {
		names = append(names, k)
	}
	sort.Strings(names)
	cols = append(cols, names...)
	return append(cols, tail...)
}
