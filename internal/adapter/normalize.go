package adapter

import (
	"fmt"
	"strings"

	"skumap/internal/model"
)

// UnsupportedSourceError is returned for a marketplace key with no schema.
type UnsupportedSourceError struct {
	Key   string
	Known []string
}

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("unsupported marketplace: %q (known: %s)", e.Key, strings.Join(e.Known, ", "))
}

// Normalize rewrites a marketplace table into canonical column names.
// Columns absent from the schema are dropped unless listed as pass-through.
// Values are copied untouched; repair and validation happen downstream.
func (r *Registry) Normalize(tbl model.Table, key string) (model.Table, error) {
	s, err := r.Lookup(key)
	if err != nil {
		return model.Table{}, err
	}
	return s.Normalize(tbl), nil
}

// Normalize applies this schema to tbl. Every row is tagged with the source key.
func (s SourceSchema) Normalize(tbl model.Table) model.Table {
	rename := s.resolveColumns(tbl.Columns)

	out := model.Table{Rows: make([]model.Row, 0, len(tbl.Rows))}
	present := map[string]bool{}
	for _, target := range rename {
		present[target] = true
	}
	for _, f := range model.CanonicalFields {
		if present[f] {
			out.Columns = append(out.Columns, f)
		}
	}
	out.Columns = append(out.Columns, model.FieldSource)
	for _, p := range s.Passthrough {
		if present[p] {
			out.Columns = append(out.Columns, p)
		}
	}

	for _, row := range tbl.Rows {
		nr := make(model.Row, len(out.Columns))
		for native, target := range rename {
			if v, ok := row[native]; ok {
				nr[target] = v
			}
		}
		nr[model.FieldSource] = s.Key
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// resolveColumns maps table headers to output names. Exact header matches
// win over case and whitespace insensitive ones.
func (s SourceSchema) resolveColumns(headers []string) map[string]string {
	loose := make(map[string]string, len(s.Columns)+len(s.Passthrough))
	for native, field := range s.Columns {
		loose[foldHeader(native)] = field
	}
	for _, p := range s.Passthrough {
		if _, ok := loose[foldHeader(p)]; !ok {
			loose[foldHeader(p)] = p
		}
	}

	rename := map[string]string{}
	taken := map[string]bool{}
	assign := func(header, target string) {
		if taken[target] {
			return
		}
		rename[header] = target
		taken[target] = true
	}
	for _, h := range headers {
		if field, ok := s.Columns[h]; ok {
			assign(h, field)
		}
	}
	for _, h := range headers {
		if _, done := rename[h]; done {
			continue
		}
		if target, ok := loose[foldHeader(h)]; ok {
			assign(h, target)
		}
	}
	return rename
}

func foldHeader(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}
