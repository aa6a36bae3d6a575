package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"skumap/internal/changelog"
	"skumap/internal/manifest"
	"skumap/internal/mapping"
	"skumap/internal/metrics"
	"skumap/internal/model"
	"skumap/internal/snapshot"
	"skumap/internal/store"
)

// messageReader abstracts kafka.Reader for testability.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaMessageReader reads partition 0 of topic from the beginning.
func NewKafkaMessageReader(brokers []string, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
}

// KafkaReader reads the latest manifest record from a compacted Kafka topic.
type KafkaReader struct {
	open func() messageReader
	key  []byte
	idle time.Duration
}

func NewKafkaReader(brokers []string, topic string, key string) *KafkaReader {
	return &KafkaReader{
		open: func() messageReader { return NewKafkaMessageReader(brokers, topic) },
		key:  []byte(key),
		idle: 10 * time.Second,
	}
}

// NewKafkaReaderWith is only for tests to inject a fake reader.
func NewKafkaReaderWith(r messageReader, key string, idle time.Duration) *KafkaReader {
	return &KafkaReader{open: func() messageReader { return r }, key: []byte(key), idle: idle}
}

func (k *KafkaReader) ReadLatest() (manifest.Manifest, error) {
	// Read from the beginning and keep the last record for key (fine for compacted topics).
	r := k.open()
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), k.idle)
	defer cancel()

	var last manifest.Manifest
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return manifest.Manifest{}, fmt.Errorf("read kafka: %w", err)
		}
		if string(m.Key) != string(k.key) {
			continue
		}
		var man manifest.Manifest
		if err := json.Unmarshal(m.Value, &man); err != nil {
			return manifest.Manifest{}, fmt.Errorf("unmarshal kafka manifest: %w", err)
		}
		last = man
	}
	if last.SnapshotID == "" {
		return manifest.Manifest{}, fmt.Errorf("no manifest found for key")
	}
	return last, nil
}

type Restorer struct {
	store          store.Store
	snapshots      *snapshot.FilesystemSnapshotter
	manifestReader manifest.Reader
	changelogPath  string
	metrics        *metrics.Registry
	logger         *slog.Logger
}

// NewRestorer wires a restorer. m and logger may be nil.
func NewRestorer(st store.Store, snaps *snapshot.FilesystemSnapshotter, mr manifest.Reader, changelogPath string, m *metrics.Registry, logger *slog.Logger) *Restorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Restorer{
		store:          st,
		snapshots:      snaps,
		manifestReader: mr,
		changelogPath:  changelogPath,
		metrics:        m,
		logger:         logger,
	}
}

type RestoreResult struct {
	SnapshotID string
	Applied    int
	Skipped    int
	Error      error
}

func (r *Restorer) RestoreFromSnapshot(snapshotID string) error {
	if snapshotID == "" {
		return nil
	}
	dump, err := r.snapshots.ReadSnapshot(snapshotID)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("restore: snapshot not found, skipping", "path", r.snapshots.Path(snapshotID))
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := r.store.LoadAll(dump.Entries, dump.Seq); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	r.logger.Info("restore: loaded snapshot", "snapshot", snapshotID, "mappings", len(dump.Entries), "seq", dump.Seq)
	return nil
}

func (r *Restorer) apply(res *RestoreResult, c mapping.Change, fromSeq int64) error {
	// covered by the snapshot; not counted
	if c.Seq <= fromSeq {
		return nil
	}
	ok, err := r.store.Apply(c)
	if err != nil {
		return err
	}
	if ok {
		res.Applied++
		if r.metrics != nil {
			r.metrics.ReplayApplied.Inc()
		}
	} else {
		res.Skipped++
		if r.metrics != nil {
			r.metrics.ReplaySkipped.Inc()
		}
	}
	return nil
}

// ReplayChangelog applies journal entries with seq above fromSeq.
func (r *Restorer) ReplayChangelog(changelogPath string, fromSeq int64) RestoreResult {
	var res RestoreResult
	err := changelog.ReadFile(changelogPath, func(line int, c mapping.Change) error {
		if err := r.apply(&res, c, fromSeq); err != nil {
			return fmt.Errorf("apply line %d: %w", line, err)
		}
		return nil
	})
	res.Error = err
	return res
}

// ReplayChangelogKafka consumes changes until the topic stays idle for idle,
// applying those above fromSeq.
func (r *Restorer) ReplayChangelogKafka(ctx context.Context, rd messageReader, fromSeq int64, idle time.Duration) RestoreResult {
	defer rd.Close()
	var res RestoreResult
	for {
		rctx, cancel := context.WithTimeout(ctx, idle)
		m, err := rd.ReadMessage(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				res.Error = ctx.Err()
				return res
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return res
			}
			res.Error = fmt.Errorf("read kafka: %w", err)
			return res
		}
		var c mapping.Change
		if err := json.Unmarshal(m.Value, &c); err != nil {
			res.Error = fmt.Errorf("unmarshal change at offset %d: %w", m.Offset, err)
			return res
		}
		if err := r.apply(&res, c, fromSeq); err != nil {
			res.Error = fmt.Errorf("apply offset %d: %w", m.Offset, err)
			return res
		}
	}
}

// RestoreAndReplay loads the latest snapshot and replays the file journal on top.
func (r *Restorer) RestoreAndReplay() (RestoreResult, error) {
	start := time.Now()
	m, err := r.manifestReader.ReadLatest()
	if err != nil {
		return RestoreResult{}, fmt.Errorf("read manifest: %w", err)
	}
	if err := r.RestoreFromSnapshot(m.SnapshotID); err != nil {
		return RestoreResult{}, fmt.Errorf("restore snapshot: %w", err)
	}
	result := r.ReplayChangelog(r.changelogPath, m.LastSeq)
	result.SnapshotID = m.SnapshotID
	if r.metrics != nil {
		r.metrics.MappingSize.Set(float64(countEntries(r.store)))
	}
	r.logger.Info("restore: replay complete", "snapshot", m.SnapshotID, "applied", result.Applied,
		"skipped", result.Skipped, "last_seq", r.store.LastSeq(), "elapsed", time.Since(start))
	return result, result.Error
}

func countEntries(st store.Store) int {
	n := 0
	_ = st.Range(func(_ model.MappingEntry) error { n++; return nil })
	return n
}
