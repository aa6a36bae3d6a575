package resolve

import (
	"log/slog"

	"skumap/internal/mapping"
	"skumap/internal/model"
)

// Result carries one mapped record per input record plus the unmapped SKUs.
type Result struct {
	Records    []model.MappedRecord
	Unresolved []string
}

// MappedCount returns the number of records whose SKU resolved.
func (r Result) MappedCount() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Status == model.Mapped {
			n++
		}
	}
	return n
}

// Resolver enriches canonical records with master ids.
type Resolver struct {
	logger *slog.Logger
}

// New returns a resolver logging through logger (slog.Default when nil).
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve maps every record through lookup. Output order and length match the
// input. Unresolved lists distinct unmapped SKUs in first-seen order.
func (r *Resolver) Resolve(records []model.CanonicalRecord, lookup mapping.Lookup) Result {
	res := Result{Records: make([]model.MappedRecord, 0, len(records))}
	seen := map[string]struct{}{}
	for _, rec := range records {
		m, ok := lookup.Lookup(rec.SKU)
		res.Records = append(res.Records, model.NewMapped(rec, m, ok))
		if ok {
			continue
		}
		if _, dup := seen[rec.SKU]; !dup {
			seen[rec.SKU] = struct{}{}
			res.Unresolved = append(res.Unresolved, rec.SKU)
		}
	}
	if len(res.Unresolved) > 0 {
		r.logger.Warn("unmapped skus", "count", len(res.Unresolved), "skus", res.Unresolved)
	}
	return res
}

// Resolve is a convenience wrapper using the default logger.
func Resolve(records []model.CanonicalRecord, lookup mapping.Lookup) Result {
	return New(nil).Resolve(records, lookup)
}
