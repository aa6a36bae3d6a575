package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// pipeline
	Batches       *prometheus.CounterVec // label: result (ok|failed)
	RowsIn        *prometheus.CounterVec // label: source
	RowsOut       *prometheus.CounterVec // label: source
	RowsExcluded  prometheus.Counter
	Duplicates    prometheus.Counter
	Unresolved    prometheus.Counter
	BatchLatency  prometheus.Histogram
	MergedRecords prometheus.Gauge

	// mapping journal
	MappingSize       prometheus.Gauge
	ChangelogAppended prometheus.Counter
	ReplayApplied     prometheus.Counter
	ReplaySkipped     prometheus.Counter

	// sinks
	TxProduced   prometheus.Counter
	TxAborted    prometheus.Counter
	TxLatencySec prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "skumap_batches_total"}, []string{"result"})
	rowsIn := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "skumap_rows_in_total"}, []string{"source"})
	rowsOut := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "skumap_rows_out_total"}, []string{"source"})
	excluded := prometheus.NewCounter(prometheus.CounterOpts{Name: "skumap_rows_excluded_total"})
	dups := prometheus.NewCounter(prometheus.CounterOpts{Name: "skumap_rows_duplicate_total"})
	unresolved := prometheus.NewCounter(prometheus.CounterOpts{Name: "skumap_unresolved_skus_total"})
	batchLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "skumap_batch_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	merged := prometheus.NewGauge(prometheus.GaugeOpts{Name: "skumap_merged_records"})

	size := prometheus.NewGauge(prometheus.GaugeOpts{Name: "skumap_mapping_size"})
	appended := prometheus.NewCounter(prometheus.CounterOpts{Name: "skumap_changelog_appended_total"})
	applied := prometheus.NewCounter(prometheus.CounterOpts{Name: "skumap_replay_applied_total"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "skumap_replay_skipped_total"})

	txProduced := prometheus.NewCounter(prometheus.CounterOpts{Name: "skumap_tx_produced_total"})
	txAborted := prometheus.NewCounter(prometheus.CounterOpts{Name: "skumap_tx_aborted_total"})
	txLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "skumap_tx_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(batches, rowsIn, rowsOut, excluded, dups, unresolved, batchLatency, merged,
		size, appended, applied, skipped, txProduced, txAborted, txLatency)
	return &Registry{
		reg:               r,
		Batches:           batches,
		RowsIn:            rowsIn,
		RowsOut:           rowsOut,
		RowsExcluded:      excluded,
		Duplicates:        dups,
		Unresolved:        unresolved,
		BatchLatency:      batchLatency,
		MergedRecords:     merged,
		MappingSize:       size,
		ChangelogAppended: appended,
		ReplayApplied:     applied,
		ReplaySkipped:     skipped,
		TxProduced:        txProduced,
		TxAborted:         txAborted,
		TxLatencySec:      txLatency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the underlying registry for scraping in tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
