package store

import (
	"fmt"
	"sort"
	"sync"

	"skumap/internal/mapping"
	"skumap/internal/model"
)

// Store persists the SKU mapping relation and the seq of the last applied change.
type Store interface {
	Apply(c mapping.Change) (applied bool, err error)
	Get(sku string) (string, bool)
	Range(fn func(e model.MappingEntry) error) error
	LoadAll(entries []model.MappingEntry, seq int64) error
	LastSeq() int64
	Close() error
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu      sync.RWMutex
	data    map[string]string
	lastSeq int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]string)}
}

// LoadAll replaces the store contents with entries (used by restore).
func (s *InMemoryStore) LoadAll(entries []model.MappingEntry, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string, len(entries))
	for _, e := range entries {
		s.data[e.SKU] = e.MasterID
	}
	s.lastSeq = seq
	return nil
}

func (s *InMemoryStore) Apply(c mapping.Change) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Seq <= s.lastSeq {
		return false, nil
	}
	switch c.Op {
	case mapping.OpAdd:
		s.data[c.SKU] = c.MasterID
	case mapping.OpRemove:
		delete(s.data, c.SKU)
	default:
		return false, fmt.Errorf("unknown op %q at seq %d", c.Op, c.Seq)
	}
	s.lastSeq = c.Seq
	return true, nil
}

func (s *InMemoryStore) Get(sku string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data[sku]
	return m, ok
}

func (s *InMemoryStore) LastSeq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// Range visits entries in SKU order.
func (s *InMemoryStore) Range(fn func(e model.MappingEntry) error) error {
	s.mu.RLock()
	entries := make([]model.MappingEntry, 0, len(s.data))
	for k, v := range s.data {
		entries = append(entries, model.MappingEntry{SKU: k, MasterID: v})
	}
	s.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].SKU < entries[j].SKU })
	for _, e := range entries {
		if err := fn(e); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// Hydrate replaces t with the store contents.
func Hydrate(s Store, t *mapping.Table) error {
	var entries []model.MappingEntry
	if err := s.Range(func(e model.MappingEntry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		return err
	}
	t.Replace(entries, s.LastSeq())
	return nil
}

// Persist writes the whole table into s.
func Persist(s Store, t *mapping.Table) error {
	return s.LoadAll(t.Entries(), t.LastSeq())
}

// Writer applies journaled changes to a store, so the store can sit behind a
// changelog journal next to the file and kafka writers.
type Writer struct{ Store Store }

func (w Writer) Append(c mapping.Change) error {
	_, err := w.Store.Apply(c)
	return err
}
