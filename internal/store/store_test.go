package store

import (
	"sync"
	"testing"

	"skumap/internal/mapping"
	"skumap/internal/model"
)

func runSeqRules(t *testing.T, s Store) {
	t.Helper()
	applied, err := s.Apply(mapping.Change{Seq: 1, Op: mapping.OpAdd, SKU: "A", MasterID: "M1"})
	if err != nil || !applied {
		t.Fatalf("first apply: applied=%v err=%v", applied, err)
	}
	// same seq => idempotent skip
	applied, err = s.Apply(mapping.Change{Seq: 1, Op: mapping.OpAdd, SKU: "A", MasterID: "M2"})
	if err != nil || applied {
		t.Fatalf("same seq should skip: applied=%v err=%v", applied, err)
	}
	if m, _ := s.Get("A"); m != "M1" {
		t.Fatalf("state changed on skipped apply: %q", m)
	}
	// gap allowed
	applied, err = s.Apply(mapping.Change{Seq: 3, Op: mapping.OpRemove, SKU: "A"})
	if err != nil || !applied {
		t.Fatalf("gap apply: applied=%v err=%v", applied, err)
	}
	if _, ok := s.Get("A"); ok {
		t.Fatalf("A should be removed")
	}
	if s.LastSeq() != 3 {
		t.Fatalf("lastSeq=%d want 3", s.LastSeq())
	}
	if _, err := s.Apply(mapping.Change{Seq: 4, Op: "rename", SKU: "A"}); err == nil {
		t.Fatalf("expected error for unknown op")
	}
	if s.LastSeq() != 3 {
		t.Fatalf("unknown op advanced seq to %d", s.LastSeq())
	}
}

func runLoadAllAndRange(t *testing.T, s Store) {
	t.Helper()
	if _, err := s.Apply(mapping.Change{Seq: 1, Op: mapping.OpAdd, SKU: "OLD", MasterID: "M0"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	dump := []model.MappingEntry{{SKU: "B", MasterID: "M2"}, {SKU: "A", MasterID: "M1"}}
	if err := s.LoadAll(dump, 7); err != nil {
		t.Fatalf("load all: %v", err)
	}
	if _, ok := s.Get("OLD"); ok {
		t.Fatalf("LoadAll must replace existing keys")
	}
	var got []model.MappingEntry
	if err := s.Range(func(e model.MappingEntry) error { got = append(got, e); return nil }); err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 2 || got[0].SKU != "A" || got[1].MasterID != "M2" {
		t.Fatalf("unexpected range result: %+v", got)
	}
	if s.LastSeq() != 7 {
		t.Fatalf("lastSeq=%d want 7", s.LastSeq())
	}
}

func TestInMemoryStore_ApplySeqRules(t *testing.T) { runSeqRules(t, NewInMemoryStore()) }

func TestInMemoryStore_LoadAllAndRange(t *testing.T) { runLoadAllAndRange(t, NewInMemoryStore()) }

func TestInMemoryStore_ConcurrentApplies(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	seq := int64(0)
	next := func() int64 {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return seq
	}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				// seqs may arrive out of order; late ones are skipped
				if _, err := s.Apply(mapping.Change{Seq: next(), Op: mapping.OpAdd, SKU: "K", MasterID: "M"}); err != nil {
					t.Errorf("apply err: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if s.LastSeq() != 1000 {
		t.Fatalf("lastSeq=%d want 1000", s.LastSeq())
	}
}

func TestHydrateAndPersist(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.LoadAll([]model.MappingEntry{{SKU: "A", MasterID: "M1"}}, 5); err != nil {
		t.Fatalf("load: %v", err)
	}
	tb := mapping.NewTable(nil)
	if err := Hydrate(s, tb); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if m, ok := tb.Get("A"); !ok || m != "M1" || tb.LastSeq() != 5 {
		t.Fatalf("bad hydrated table: %q ok=%v seq=%d", m, ok, tb.LastSeq())
	}

	c := tb.Add("B", "M2")
	if c.Seq != 6 {
		t.Fatalf("seq should continue from store, got %d", c.Seq)
	}
	other := NewInMemoryStore()
	if err := Persist(other, tb); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if m, _ := other.Get("B"); m != "M2" || other.LastSeq() != 6 {
		t.Fatalf("persist mismatch: %q seq=%d", m, other.LastSeq())
	}
}

func TestWriter_AppliesChanges(t *testing.T) {
	s := NewInMemoryStore()
	w := Writer{Store: s}
	if err := w.Append(mapping.Change{Seq: 1, Op: mapping.OpAdd, SKU: "A", MasterID: "M"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got, ok := s.Get("A"); !ok || got != "M" {
		t.Fatalf("want A=M, got %q %v", got, ok)
	}
	if err := w.Append(mapping.Change{Seq: 2, Op: "bogus", SKU: "A"}); err == nil {
		t.Fatalf("unknown op should fail")
	}
}
