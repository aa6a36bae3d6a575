package mapping

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skumap/internal/model"
	"skumap/internal/tabular"
)

func TestAdd_LastWriteWins(t *testing.T) {
	tb := NewTable(nil)
	c1 := tb.Add("SKU1", "MSKU1")
	c2 := tb.Add("SKU1", "MSKU9")

	assert.Equal(t, int64(1), c1.Seq)
	assert.Equal(t, int64(2), c2.Seq)
	m, ok := tb.Get("SKU1")
	require.True(t, ok)
	assert.Equal(t, "MSKU9", m)
	assert.Equal(t, 1, tb.Len())
}

func TestRemove_AbsentIsNoop(t *testing.T) {
	tb := NewTable(nil)
	tb.Add("SKU1", "MSKU1")

	_, ok := tb.Remove("NOPE")
	assert.False(t, ok)
	assert.Equal(t, int64(1), tb.LastSeq(), "absent remove must not advance seq")

	c, ok := tb.Remove("SKU1")
	require.True(t, ok)
	assert.Equal(t, OpRemove, c.Op)
	assert.Equal(t, 0, tb.Len())
}

func TestApply_SeqRules(t *testing.T) {
	tb := NewTable(nil)
	assert.True(t, tb.Apply(Change{Seq: 1, Op: OpAdd, SKU: "A", MasterID: "M1"}))
	// same seq => idempotent skip
	assert.False(t, tb.Apply(Change{Seq: 1, Op: OpAdd, SKU: "A", MasterID: "M2"}))
	// gap allowed
	assert.True(t, tb.Apply(Change{Seq: 3, Op: OpRemove, SKU: "A"}))
	assert.False(t, tb.Apply(Change{Seq: 4, Op: "bogus", SKU: "A"}))

	_, ok := tb.Get("A")
	assert.False(t, ok)
	assert.Equal(t, int64(3), tb.LastSeq())
}

func TestBatchMap(t *testing.T) {
	tb := NewTable(nil)
	tb.Add("SKU1", "MSKU1")
	tb.Add("SKU2", "MSKU2")
	tb.Add("SKU3", "MSKU2")

	got := BatchMap(tb, []string{"SKU1", "SKU2", "SKU3", "SKU4"})
	require.NotNil(t, got["SKU1"])
	assert.Equal(t, "MSKU1", *got["SKU1"])
	assert.Equal(t, "MSKU2", *got["SKU3"])
	assert.Nil(t, got["SKU4"])
}

func TestLoad_ReplacesAtomically(t *testing.T) {
	tb := NewTable(nil)
	tb.Add("OLD", "M0")

	csv := "SKU,MSKU\nSKU1,MSKU1\nSKU2,MSKU2\nSKU1,MSKU3\n,MSKU4\nSKU5,\n"
	res, err := tb.Load(strings.NewReader(csv), tabular.CSV)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 2, res.Skipped)

	_, ok := tb.Get("OLD")
	assert.False(t, ok, "load replaces the whole table")
	m, _ := tb.Get("SKU1")
	assert.Equal(t, "MSKU3", m, "later rows win")
}

func TestLoad_MissingMSKUColumnKeepsTable(t *testing.T) {
	tb := NewTable(nil)
	tb.Add("SKU1", "MSKU1")
	before := tb.Entries()

	_, err := tb.Load(strings.NewReader("SKU,Master\nSKU2,X\n"), tabular.CSV)
	require.Error(t, err)

	var le *MappingLoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, []string{ColumnMSKU}, le.Missing)
	assert.Equal(t, before, tb.Entries())
}

func TestLoadFile_UnreadableIsLoadError(t *testing.T) {
	tb := NewTable(nil)
	_, err := tb.LoadFile(filepath.Join(t.TempDir(), "missing.csv"))

	var le *MappingLoadError
	require.True(t, errors.As(err, &le))
	assert.Contains(t, le.Error(), "missing.csv")
}

func TestExportAndReload(t *testing.T) {
	dir := t.TempDir()
	tb := NewTable(nil)
	tb.Add("B", "M2")
	tb.Add("A", "M1")

	path := filepath.Join(dir, "mapping.xlsx")
	require.NoError(t, tb.ExportFile(path))

	other := NewTable(nil)
	_, err := other.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []model.MappingEntry{{SKU: "A", MasterID: "M1"}, {SKU: "B", MasterID: "M2"}}, other.Entries())

	var buf bytes.Buffer
	require.NoError(t, tb.Export(&buf, tabular.CSV))
	assert.Equal(t, "SKU,MSKU\nA,M1\nB,M2\n", buf.String())
}

func TestSnapshotIsIsolated(t *testing.T) {
	tb := NewTable(nil)
	tb.Add("SKU1", "MSKU1")
	snap := tb.Snapshot()
	tb.Add("SKU2", "MSKU2")
	tb.Remove("SKU1")

	_, ok := snap.Lookup("SKU2")
	assert.False(t, ok)
	m, ok := snap.Lookup("SKU1")
	assert.True(t, ok)
	assert.Equal(t, "MSKU1", m)
	assert.Equal(t, int64(1), snap.Seq())
}

func TestTable_ConcurrentReadersAndWriters(t *testing.T) {
	tb := NewTable(nil)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sku := string(rune('A' + w))
				tb.Add(sku, "M")
				tb.Remove(sku)
			}
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _ = tb.Lookup("A")
				_ = tb.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(4*200*2), tb.LastSeq())
	assert.Equal(t, 0, tb.Len())
}
