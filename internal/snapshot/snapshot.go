package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"skumap/internal/model"
	"skumap/internal/store"
)

// FileName is the snapshot payload inside each snapshot directory.
const FileName = "mapping.json"

// Dump is the on-disk snapshot payload.
type Dump struct {
	Seq     int64                `json:"seq"`
	Entries []model.MappingEntry `json:"entries"`
}

type Snapshotter interface {
	WriteSnapshot(snapshotID string, st store.Store) (Dump, error)
}

type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

// Path returns where the snapshot with the given id lives.
func (f *FilesystemSnapshotter) Path(snapshotID string) string {
	return filepath.Join(f.baseDir, snapshotID, FileName)
}

func (f *FilesystemSnapshotter) WriteSnapshot(snapshotID string, st store.Store) (Dump, error) {
	if err := os.MkdirAll(filepath.Join(f.baseDir, snapshotID), 0o755); err != nil {
		return Dump{}, fmt.Errorf("mkdir: %w", err)
	}
	dump := Dump{Seq: st.LastSeq(), Entries: []model.MappingEntry{}}
	if err := st.Range(func(e model.MappingEntry) error {
		dump.Entries = append(dump.Entries, e)
		return nil
	}); err != nil {
		return Dump{}, err
	}

	out, err := os.Create(f.Path(snapshotID))
	if err != nil {
		return Dump{}, fmt.Errorf("create: %w", err)
	}
	defer out.Close()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&dump); err != nil {
		return Dump{}, fmt.Errorf("encode: %w", err)
	}
	return dump, nil
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func (f *FilesystemSnapshotter) ReadSnapshot(snapshotID string) (Dump, error) {
	data, err := os.ReadFile(f.Path(snapshotID))
	if err != nil {
		return Dump{}, err
	}
	var d Dump
	if err := json.Unmarshal(data, &d); err != nil {
		return Dump{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return d, nil
}
