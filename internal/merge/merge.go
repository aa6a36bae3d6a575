package merge

import (
	"sort"
	"time"

	"skumap/internal/model"
)

// Record is what Merge needs from a canonical or mapped record.
type Record interface {
	model.CanonicalRecord | model.MappedRecord
}

// Options tunes deduplication.
type Options struct {
	// NamespaceBySource adds the source marketplace to the dedup key so equal
	// order numbers from different marketplaces are kept apart.
	NamespaceBySource bool
}

type dedupKey struct {
	source, order, sku string
}

// Merge concatenates batches in argument order, keeps the first occurrence of
// each (order_number, sku) pair and stable-sorts the result by order date.
func Merge[R Record](batches ...[]R) []R {
	return MergeWith(Options{}, batches...)
}

// MergeWith is Merge with explicit options.
func MergeWith[R Record](opts Options, batches ...[]R) []R {
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	out := make([]R, 0, total)
	seen := make(map[dedupKey]struct{}, total)
	for _, b := range batches {
		for _, r := range b {
			c := base(r)
			k := dedupKey{order: c.OrderNumber, sku: c.SKU}
			if opts.NamespaceBySource {
				k.source = c.Source
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return date(out[i]).Before(date(out[j]))
	})
	return out
}

func base[R Record](r R) model.CanonicalRecord {
	switch v := any(r).(type) {
	case model.CanonicalRecord:
		return v
	case model.MappedRecord:
		return v.CanonicalRecord
	}
	return model.CanonicalRecord{}
}

func date[R Record](r R) time.Time { return base(r).OrderDate }
