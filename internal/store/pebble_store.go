package store

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"skumap/internal/mapping"
	"skumap/internal/model"
)

var (
	skuPrefix = []byte("sku/")
	skuEnd    = []byte("sku0") // '/'+1 bounds the prefix
	seqKey    = []byte("meta/last_seq")
)

// PebbleStore implements Store using PebbleDB. Every write is synced so a
// CLI invocation that exits right after a mutation keeps it.
type PebbleStore struct {
	mu      sync.Mutex
	db      *pebble.DB
	lastSeq int64
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:          16 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	p := &PebbleStore{db: d}
	v, closer, err := d.Get(seqKey)
	switch {
	case err == nil:
		if len(v) == 8 {
			p.lastSeq = int64(binary.BigEndian.Uint64(v))
		}
		_ = closer.Close()
	case err != pebble.ErrNotFound:
		_ = d.Close()
		return nil, fmt.Errorf("pebble read seq: %w", err)
	}
	return p, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func skuKey(sku string) []byte { return append(append([]byte(nil), skuPrefix...), sku...) }

func encodeSeq(seq int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	return b
}

func (p *PebbleStore) Apply(c mapping.Change) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Idempotency / ordering
	if c.Seq <= p.lastSeq {
		return false, nil
	}
	wb := p.db.NewBatch()
	defer wb.Close()
	switch c.Op {
	case mapping.OpAdd:
		if err := wb.Set(skuKey(c.SKU), []byte(c.MasterID), nil); err != nil {
			return false, err
		}
	case mapping.OpRemove:
		if err := wb.Delete(skuKey(c.SKU), nil); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("unknown op %q at seq %d", c.Op, c.Seq)
	}
	if err := wb.Set(seqKey, encodeSeq(c.Seq), nil); err != nil {
		return false, err
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return false, fmt.Errorf("pebble commit: %w", err)
	}
	p.lastSeq = c.Seq
	return true, nil
}

func (p *PebbleStore) Get(sku string) (string, bool) {
	v, closer, err := p.db.Get(skuKey(sku))
	if err != nil {
		return "", false
	}
	defer closer.Close()
	return string(v), true
}

func (p *PebbleStore) LastSeq() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq
}

// Range visits entries in SKU byte order.
func (p *PebbleStore) Range(fn func(e model.MappingEntry) error) error {
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: skuPrefix, UpperBound: skuEnd})
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		sku := string(it.Key()[len(skuPrefix):])
		msku := string(append([]byte(nil), it.Value()...))
		if err := fn(model.MappingEntry{SKU: sku, MasterID: msku}); err != nil {
			return err
		}
	}
	return it.Error()
}

// LoadAll replaces every mapping in one synced batch.
func (p *PebbleStore) LoadAll(entries []model.MappingEntry, seq int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	wb := p.db.NewBatch()
	defer wb.Close()
	if err := wb.DeleteRange(skuPrefix, skuEnd, nil); err != nil {
		return err
	}
	for _, e := range entries {
		if err := wb.Set(skuKey(e.SKU), []byte(e.MasterID), nil); err != nil {
			return err
		}
	}
	if err := wb.Set(seqKey, encodeSeq(seq), nil); err != nil {
		return err
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble commit: %w", err)
	}
	p.lastSeq = seq
	return nil
}
