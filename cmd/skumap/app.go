package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"skumap/internal/adapter"
	"skumap/internal/changelog"
	"skumap/internal/config"
	"skumap/internal/logger"
	"skumap/internal/manifest"
	"skumap/internal/mapping"
	"skumap/internal/metrics"
	"skumap/internal/sink"
	"skumap/internal/snapshot"
	"skumap/internal/store"
)

const manifestKey = "skumap-manifest-latest"

// app holds what every subcommand shares: config, logger, metrics and the
// resources to release on exit.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Registry
	closers []io.Closer
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	c, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: slog.Default(), metrics: metrics.NewRegistry(), closers: []io.Closer{c}}, nil
}

func (a *app) onClose(c io.Closer) { a.closers = append(a.closers, c) }

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) schemas() (*adapter.Registry, error) {
	reg := adapter.DefaultRegistry()
	if a.cfg.SchemasFile != "" {
		n, err := reg.LoadSchemaFile(a.cfg.SchemasFile)
		if err != nil {
			return nil, err
		}
		a.logger.Info("loaded marketplace schemas", "path", a.cfg.SchemasFile, "schemas", n)
	}
	if len(a.cfg.Pipeline.Passthrough) > 0 {
		if err := reg.ExtendPassthrough(a.cfg.Pipeline.Passthrough...); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *app) openStore() (*store.PebbleStore, error) {
	st, err := store.NewPebbleStore(a.cfg.Mapping.PebbleDir)
	if err != nil {
		return nil, fmt.Errorf("open mapping store: %w", err)
	}
	a.onClose(st)
	return st, nil
}

// mappingTable returns the table a command works on. A mapping file, from
// the flag or config, replaces the stored mappings for this invocation only.
func (a *app) mappingTable(st store.Store, file string) (*mapping.Table, error) {
	t := mapping.NewTable(a.logger)
	if file == "" {
		file = a.cfg.Mapping.File
	}
	if file != "" {
		if _, err := t.LoadFile(file); err != nil {
			return nil, err
		}
		return t, nil
	}
	if err := store.Hydrate(st, t); err != nil {
		return nil, fmt.Errorf("hydrate mapping: %w", err)
	}
	return t, nil
}

type countedWriter struct {
	changelog.Writer
	appended prometheus.Counter
}

func (w countedWriter) Append(c mapping.Change) error {
	if err := w.Writer.Append(c); err != nil {
		return err
	}
	w.appended.Inc()
	return nil
}

// journal journals mutations of t to the file changelog, kafka when
// configured, and finally the durable store.
func (a *app) journal(t *mapping.Table, st store.Store) (*changelog.Journal, error) {
	fw, err := changelog.NewFileWriter(a.cfg.Mapping.ChangelogDir, changelog.DefaultFile)
	if err != nil {
		return nil, err
	}
	ws := []changelog.Writer{fw}
	if a.cfg.Mapping.KafkaBrokers != "" {
		kw := changelog.NewKafkaWriter(a.cfg.Mapping.KafkaBrokers, a.cfg.Mapping.KafkaTopic)
		a.onClose(kw)
		ws = append(ws, kw)
	}
	ws = append(ws, store.Writer{Store: st})
	w := countedWriter{Writer: changelog.NewMultiWriter(ws...), appended: a.metrics.ChangelogAppended}
	return changelog.NewJournal(t, w), nil
}

func (a *app) changelogPath() string {
	return filepath.Join(a.cfg.Mapping.ChangelogDir, changelog.DefaultFile)
}

func (a *app) snapshotter() *snapshot.FilesystemSnapshotter {
	return snapshot.NewFilesystemSnapshotter(a.cfg.Mapping.SnapshotDir)
}

func (a *app) manifestPublisher() manifest.Publisher {
	pubs := []manifest.Publisher{manifest.NewFilesystemManifest(a.cfg.Mapping.SnapshotDir)}
	if a.cfg.Mapping.ManifestTopic != "" {
		km := manifest.NewKafkaManifest(a.cfg.Mapping.KafkaBrokers, a.cfg.Mapping.ManifestTopic, manifestKey)
		a.onClose(km)
		pubs = append(pubs, km)
	}
	return manifest.MultiPublisher(pubs...)
}

// sinks opens every configured record sink.
func (a *app) sinks(ctx context.Context) (*sink.MultiSink, error) {
	var ss []sink.Sink
	if p := a.cfg.Sink.SQLitePath; p != "" {
		s, err := sink.OpenSQLite(p)
		if err != nil {
			return nil, err
		}
		ss = append(ss, s)
	}
	if b := a.cfg.Sink.KafkaBrokers; b != "" {
		if a.cfg.Sink.TxID != "" {
			s, err := sink.NewTxSink(ctx, b, a.cfg.Sink.KafkaTopic, a.cfg.Sink.TxID, a.metrics)
			if err != nil {
				_ = sink.NewMultiSink(ss...).Close()
				return nil, err
			}
			ss = append(ss, s)
		} else {
			ss = append(ss, sink.NewKafkaSink(b, a.cfg.Sink.KafkaTopic))
		}
	}
	ms := sink.NewMultiSink(ss...)
	a.onClose(ms)
	return ms, nil
}

// serveMetrics exposes /metrics when an address is configured.
func (a *app) serveMetrics() {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.onClose(srv)
	a.logger.Info("serving metrics", "addr", addr)
}
