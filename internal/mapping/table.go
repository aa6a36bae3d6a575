package mapping

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"skumap/internal/model"
)

// Op identifies a mapping mutation.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// Change describes one applied mutation. Seq increases by one per change.
type Change struct {
	Seq      int64  `json:"seq"`
	Op       Op     `json:"op"`
	SKU      string `json:"sku"`
	MasterID string `json:"msku,omitempty"`
	TS       int64  `json:"ts"`
}

// nowUnix returns current time in epoch seconds. Split for testability.
var nowUnix = func() int64 { return time.Now().UTC().Unix() }

// Lookup resolves a SKU to its master id.
type Lookup interface {
	Lookup(sku string) (string, bool)
}

// Table is the SKU -> master id relation. Writers are exclusive, readers shared.
type Table struct {
	mu      sync.RWMutex
	data    map[string]string
	lastSeq int64
	logger  *slog.Logger
}

// NewTable returns an empty table logging through logger (slog.Default when nil).
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{data: make(map[string]string), logger: logger}
}

// Lookup implements Lookup.
func (t *Table) Lookup(sku string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.data[sku]
	return m, ok
}

// Get is an alias of Lookup kept for readability at call sites.
func (t *Table) Get(sku string) (string, bool) { return t.Lookup(sku) }

// Len returns the number of mapped SKUs.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

// LastSeq returns the sequence number of the latest applied change.
func (t *Table) LastSeq() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSeq
}

// Add maps sku to masterID, overwriting any previous mapping (last write wins).
func (t *Table) Add(sku, masterID string) Change {
	t.mu.Lock()
	prev, existed := t.data[sku]
	t.data[sku] = masterID
	t.lastSeq++
	c := Change{Seq: t.lastSeq, Op: OpAdd, SKU: sku, MasterID: masterID, TS: nowUnix()}
	t.mu.Unlock()

	if existed && prev != masterID {
		t.logger.Info("mapping overwritten", "sku", sku, "previous", prev, "msku", masterID)
	} else {
		t.logger.Info("mapping added", "sku", sku, "msku", masterID)
	}
	return c
}

// Remove deletes the mapping for sku. Removing an absent SKU is a no-op
// reported as a warning; ok is false in that case.
func (t *Table) Remove(sku string) (Change, bool) {
	t.mu.Lock()
	if _, exists := t.data[sku]; !exists {
		t.mu.Unlock()
		t.logger.Warn("sku not found in mapping", "sku", sku)
		return Change{}, false
	}
	delete(t.data, sku)
	t.lastSeq++
	c := Change{Seq: t.lastSeq, Op: OpRemove, SKU: sku, TS: nowUnix()}
	t.mu.Unlock()

	t.logger.Info("mapping removed", "sku", sku)
	return c, true
}

// Apply replays a journaled change. Changes at or below the current seq are
// skipped so replay is idempotent; gaps are allowed.
func (t *Table) Apply(c Change) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c.Seq <= t.lastSeq {
		return false
	}
	switch c.Op {
	case OpAdd:
		t.data[c.SKU] = c.MasterID
	case OpRemove:
		delete(t.data, c.SKU)
	default:
		return false
	}
	t.lastSeq = c.Seq
	return true
}

// Replace swaps the whole relation for entries in one step. Later entries
// for the same SKU win. seq becomes the table's sequence number.
func (t *Table) Replace(entries []model.MappingEntry, seq int64) {
	next := make(map[string]string, len(entries))
	for _, e := range entries {
		next[e.SKU] = e.MasterID
	}
	t.mu.Lock()
	t.data = next
	t.lastSeq = seq
	t.mu.Unlock()
}

// Entries returns all mappings sorted by SKU.
func (t *Table) Entries() []model.MappingEntry {
	t.mu.RLock()
	out := make([]model.MappingEntry, 0, len(t.data))
	for k, v := range t.data {
		out = append(out, model.MappingEntry{SKU: k, MasterID: v})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

// Snapshot copies the relation into an immutable Lookup.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make(map[string]string, len(t.data))
	for k, v := range t.data {
		cp[k] = v
	}
	return Snapshot{data: cp, seq: t.lastSeq}
}

// Snapshot is a read-only copy of a Table, safe for concurrent use.
type Snapshot struct {
	data map[string]string
	seq  int64
}

// Lookup implements Lookup.
func (s Snapshot) Lookup(sku string) (string, bool) {
	m, ok := s.data[sku]
	return m, ok
}

// Len returns the number of mapped SKUs.
func (s Snapshot) Len() int { return len(s.data) }

// Seq returns the table sequence number at snapshot time.
func (s Snapshot) Seq() int64 { return s.seq }
