package restore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"skumap/internal/changelog"
	"skumap/internal/manifest"
	"skumap/internal/mapping"
	"skumap/internal/metrics"
	"skumap/internal/snapshot"
	"skumap/internal/store"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	for _, l := range lines {
		_, _ = f.WriteString(l + "\n")
	}
}

func TestRestoreFromSnapshot_LoadsStore(t *testing.T) {
	base := t.TempDir()
	sid := "sid-001"
	if err := os.MkdirAll(filepath.Join(base, sid), 0o755); err != nil {
		t.Fatalf("mkdir snapshot: %v", err)
	}
	b, _ := json.Marshal(map[string]any{
		"seq":     4,
		"entries": []map[string]string{{"sku": "SKU1", "msku": "M1"}, {"sku": "SKU2", "msku": "M2"}},
	})
	if err := os.WriteFile(filepath.Join(base, sid, snapshot.FileName), b, 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	st := store.NewInMemoryStore()
	r := NewRestorer(st, snapshot.NewFilesystemSnapshotter(base), manifest.NewFilesystemManifest(base), "", nil, nil)
	if err := r.RestoreFromSnapshot(sid); err != nil {
		t.Fatalf("RestoreFromSnapshot error: %v", err)
	}
	if m, ok := st.Get("SKU2"); !ok || m != "M2" {
		t.Fatalf("bad SKU2: %q ok=%v", m, ok)
	}
	if st.LastSeq() != 4 {
		t.Fatalf("lastSeq=%d want 4", st.LastSeq())
	}

	// a missing snapshot is skipped, not an error
	if err := r.RestoreFromSnapshot("nope"); err != nil {
		t.Fatalf("missing snapshot should be skipped: %v", err)
	}
}

func TestReplayChangelog_IdempotencyAndGaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changelog", changelog.DefaultFile)
	// seq=1 apply, seq=1 duplicate skip, seq=3 gap apply, seq=2 lower-than-last skip
	writeLines(t, path,
		`{"seq":1,"op":"add","sku":"K","msku":"M1","ts":1}`,
		`{"seq":1,"op":"add","sku":"K","msku":"M9","ts":2}`,
		`{"seq":3,"op":"add","sku":"K","msku":"M3","ts":3}`,
		`{"seq":2,"op":"remove","sku":"K","ts":4}`,
	)

	st := store.NewInMemoryStore()
	m := metrics.NewRegistry()
	r := NewRestorer(st, nil, nil, path, m, nil)
	res := r.ReplayChangelog(path, 0)
	if res.Error != nil {
		t.Fatalf("replay error: %v", res.Error)
	}
	if res.Applied != 2 || res.Skipped != 2 {
		t.Fatalf("want applied=2 skipped=2, got %+v", res)
	}
	if got, _ := st.Get("K"); got != "M3" || st.LastSeq() != 3 {
		t.Fatalf("unexpected final state: %q seq=%d", got, st.LastSeq())
	}
	if testutil.ToFloat64(m.ReplayApplied) != 2 || testutil.ToFloat64(m.ReplaySkipped) != 2 {
		t.Fatalf("metrics not updated")
	}
}

func TestReplayChangelog_EmptyAndMalformed(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.jsonl")
	writeLines(t, empty)
	r := NewRestorer(store.NewInMemoryStore(), nil, nil, "", nil, nil)
	res := r.ReplayChangelog(empty, 0)
	if res.Error != nil || res.Applied != 0 || res.Skipped != 0 {
		t.Fatalf("empty file unexpected: %+v", res)
	}
	bad := filepath.Join(dir, "bad.jsonl")
	writeLines(t, bad, `{"seq":1,"op":"add","sku":"A","msku":"M","ts":1}`, `{bad json}`)
	if res = r.ReplayChangelog(bad, 0); res.Error == nil {
		t.Fatalf("expected error for malformed JSONL, got nil")
	}
}

// Integration: table mutations -> journal -> snapshot -> manifest -> more mutations -> RestoreAndReplay
func TestIntegration_RestoreAndReplay_EndToEnd(t *testing.T) {
	base := t.TempDir()
	snapDir := filepath.Join(base, "snapshots")
	clDir := filepath.Join(base, "changelog")

	live := store.NewInMemoryStore()
	tb := mapping.NewTable(nil)
	fw, err := changelog.NewFileWriter(clDir, changelog.DefaultFile)
	if err != nil {
		t.Fatalf("file writer: %v", err)
	}
	j := changelog.NewJournal(tb, fw)
	mutate := func(fn func() (mapping.Change, error)) {
		c, err := fn()
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
		if _, err := live.Apply(c); err != nil {
			t.Fatalf("store apply: %v", err)
		}
	}
	mutate(func() (mapping.Change, error) { return j.Add("SKU1", "M1") })
	mutate(func() (mapping.Change, error) { return j.Add("SKU2", "M2") })

	snaps := snapshot.NewFilesystemSnapshotter(snapDir)
	if _, err := snaps.WriteSnapshot("sid-int", live); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	mf := manifest.NewFilesystemManifest(snapDir)
	if err := mf.PublishLatest("sid-int", live.LastSeq()); err != nil {
		t.Fatalf("publish manifest: %v", err)
	}

	// after the snapshot
	mutate(func() (mapping.Change, error) { return j.Add("SKU1", "M1b") })
	mutate(func() (mapping.Change, error) {
		c, _, err := j.Remove("SKU2")
		return c, err
	})
	mutate(func() (mapping.Change, error) { return j.Add("SKU3", "M3") })

	fresh := store.NewInMemoryStore()
	r := NewRestorer(fresh, snaps, mf, fw.Path(), nil, nil)
	res, err := r.RestoreAndReplay()
	if err != nil {
		t.Fatalf("RestoreAndReplay: %v", err)
	}
	// lines covered by the snapshot are not counted
	if res.Applied != 3 || res.Skipped != 0 || res.SnapshotID != "sid-int" {
		t.Fatalf("result unexpected: %+v", res)
	}
	if fresh.LastSeq() != live.LastSeq() {
		t.Fatalf("seq mismatch: %d vs %d", fresh.LastSeq(), live.LastSeq())
	}
	for _, sku := range []string{"SKU1", "SKU2", "SKU3"} {
		want, wok := live.Get(sku)
		got, gok := fresh.Get(sku)
		if want != got || wok != gok {
			t.Fatalf("%s: restored %q/%v, live %q/%v", sku, got, gok, want, wok)
		}
	}
}

// fakeReader replays fixed messages then blocks until the context ends.
type fakeReader struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) Close() error { f.closed = true; return nil }

func changeMsg(t *testing.T, c mapping.Change) kafka.Message {
	t.Helper()
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Key: []byte(c.SKU), Value: b}
}

func TestReplayChangelogKafka_StopsWhenIdle(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{
		changeMsg(t, mapping.Change{Seq: 1, Op: mapping.OpAdd, SKU: "A", MasterID: "M0"}),
		changeMsg(t, mapping.Change{Seq: 2, Op: mapping.OpAdd, SKU: "A", MasterID: "M1"}),
		changeMsg(t, mapping.Change{Seq: 3, Op: mapping.OpAdd, SKU: "B", MasterID: "M2"}),
	}}
	st := store.NewInMemoryStore()
	_ = st.LoadAll(nil, 1)
	r := NewRestorer(st, nil, nil, "", nil, nil)

	res := r.ReplayChangelogKafka(context.Background(), fr, 1, 20*time.Millisecond)
	if res.Error != nil {
		t.Fatalf("replay: %v", res.Error)
	}
	if res.Applied != 2 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !fr.closed {
		t.Fatalf("reader not closed")
	}
	if m, _ := st.Get("A"); m != "M1" {
		t.Fatalf("A -> %q", m)
	}
}

func TestKafkaReader_ReadLatestKeepsLastForKey(t *testing.T) {
	mk := func(key string, m manifest.Manifest) kafka.Message {
		b, _ := json.Marshal(m)
		return kafka.Message{Key: []byte(key), Value: b}
	}
	fr := &fakeReader{msgs: []kafka.Message{
		mk("k", manifest.Manifest{SnapshotID: "s1", LastSeq: 1}),
		mk("other", manifest.Manifest{SnapshotID: "x", LastSeq: 9}),
		mk("k", manifest.Manifest{SnapshotID: "s2", LastSeq: 5}),
	}}
	got, err := NewKafkaReaderWith(fr, "k", 20*time.Millisecond).ReadLatest()
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if got.SnapshotID != "s2" || got.LastSeq != 5 {
		t.Fatalf("unexpected manifest: %+v", got)
	}

	if _, err := NewKafkaReaderWith(&fakeReader{}, "k", 10*time.Millisecond).ReadLatest(); err == nil {
		t.Fatalf("expected error when no manifest exists")
	}
}
