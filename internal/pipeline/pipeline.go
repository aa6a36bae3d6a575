package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"skumap/internal/adapter"
	"skumap/internal/clean"
	"skumap/internal/mapping"
	"skumap/internal/merge"
	"skumap/internal/metrics"
	"skumap/internal/model"
	"skumap/internal/quality"
	"skumap/internal/resolve"
	"skumap/internal/schema"
)

// Batch is one marketplace export to process.
type Batch struct {
	ID          string
	Marketplace string
	Table       model.Table
}

// BatchOutcome is the per-batch result. Err is set when the batch failed;
// other batches are unaffected.
type BatchOutcome struct {
	ID            string
	Marketplace   string
	Quality       quality.Metrics
	ExcludedDates []int
	Duplicates    int
	Records       []model.MappedRecord
	Unresolved    []string
	Elapsed       time.Duration
	Err           error
}

// Result is the outcome of a whole run.
type Result struct {
	Batches    []BatchOutcome
	Records    []model.MappedRecord
	Unresolved []string
	Coverage   quality.CoverageStats
	// MappingSeq is the mapping table sequence the run resolved against.
	MappingSeq int64
}

// Failed returns the outcomes that carry an error.
func (r Result) Failed() []BatchOutcome {
	var out []BatchOutcome
	for _, b := range r.Batches {
		if b.Err != nil {
			out = append(out, b)
		}
	}
	return out
}

// Config wires a Pipeline.
type Config struct {
	Schemas           *adapter.Registry
	Mapping           *mapping.Table
	Workers           int
	NamespaceBySource bool
	Metrics           *metrics.Registry
	Logger            *slog.Logger
}

// Pipeline normalizes, cleans, validates and resolves batches, then merges them.
type Pipeline struct {
	cfg      Config
	resolver *resolve.Resolver
	logger   *slog.Logger
}

func New(cfg Config) *Pipeline {
	if cfg.Schemas == nil {
		cfg.Schemas = adapter.DefaultRegistry()
	}
	if cfg.Mapping == nil {
		cfg.Mapping = mapping.NewTable(cfg.Logger)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, resolver: resolve.New(logger), logger: logger}
}

// Run processes batches concurrently. Unknown marketplace keys fail the whole
// run before any batch starts. Failures inside a batch are reported in its
// outcome and the healthy batches are still merged.
func (p *Pipeline) Run(ctx context.Context, batches []Batch) (Result, error) {
	for _, b := range batches {
		if _, err := p.cfg.Schemas.Lookup(b.Marketplace); err != nil {
			return Result{}, fmt.Errorf("batch %q: %w", b.ID, err)
		}
	}

	snap := p.cfg.Mapping.Snapshot()
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.MappingSize.Set(float64(snap.Len()))
	}

	outcomes := make([]BatchOutcome, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i := range batches {
		if gctx.Err() != nil {
			break
		}
		i := i
		b := batches[i]
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = p.process(b, snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{Batches: outcomes, MappingSeq: snap.Seq()}
	healthy := make([][]model.MappedRecord, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			healthy = append(healthy, o.Records)
		}
	}
	res.Records = merge.MergeWith(merge.Options{NamespaceBySource: p.cfg.NamespaceBySource}, healthy...)
	res.Unresolved = unresolved(res.Records)
	res.Coverage = quality.Coverage(res.Records)

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.MergedRecords.Set(float64(len(res.Records)))
	}
	p.logger.Info("pipeline run complete",
		"batches", len(batches), "failed", len(res.Failed()),
		"records", len(res.Records), "unresolved", len(res.Unresolved),
		"coverage_percent", res.Coverage.Percent)
	return res, nil
}

func (p *Pipeline) process(b Batch, lookup mapping.Lookup) (out BatchOutcome) {
	start := time.Now()
	out = BatchOutcome{ID: b.ID, Marketplace: b.Marketplace}
	defer func() {
		out.Elapsed = time.Since(start)
		p.observe(out, len(b.Table.Rows))
	}()

	norm, err := p.cfg.Schemas.Normalize(b.Table, b.Marketplace)
	if err != nil {
		out.Err = fmt.Errorf("normalize: %w", err)
		return out
	}
	out.Quality = quality.FromTable(norm)

	cleaned, err := clean.Clean(norm)
	if err != nil {
		out.Err = fmt.Errorf("clean: %w", err)
		return out
	}
	out.ExcludedDates = cleaned.ExcludedDates
	out.Duplicates = cleaned.Duplicates

	if err := schema.Validate(cleaned.Records); err != nil {
		out.Err = fmt.Errorf("validate: %w", err)
		return out
	}

	resolved := p.resolver.Resolve(cleaned.Records, lookup)
	out.Records = resolved.Records
	out.Unresolved = resolved.Unresolved
	return out
}

func (p *Pipeline) observe(o BatchOutcome, rowsIn int) {
	log := p.logger.With("batch", o.ID, "marketplace", o.Marketplace)
	if o.Err != nil {
		log.Error("batch failed", "err", o.Err)
	} else {
		log.Info("batch processed", "rows_in", rowsIn, "rows_out", len(o.Records),
			"excluded_dates", len(o.ExcludedDates), "duplicates", o.Duplicates,
			"unresolved", len(o.Unresolved), "elapsed", o.Elapsed)
	}

	m := p.cfg.Metrics
	if m == nil {
		return
	}
	m.BatchLatency.Observe(o.Elapsed.Seconds())
	m.RowsIn.WithLabelValues(o.Marketplace).Add(float64(rowsIn))
	if o.Err != nil {
		m.Batches.WithLabelValues("failed").Inc()
		return
	}
	m.Batches.WithLabelValues("ok").Inc()
	m.RowsOut.WithLabelValues(o.Marketplace).Add(float64(len(o.Records)))
	m.RowsExcluded.Add(float64(len(o.ExcludedDates)))
	m.Duplicates.Add(float64(o.Duplicates))
	m.Unresolved.Add(float64(len(o.Unresolved)))
}

func unresolved(recs []model.MappedRecord) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, r := range recs {
		if r.Status == model.Mapped {
			continue
		}
		if _, dup := seen[r.SKU]; !dup {
			seen[r.SKU] = struct{}{}
			out = append(out, r.SKU)
		}
	}
	return out
}

// IsRunFatal reports whether err came from an input that prevents any batch
// from running.
func IsRunFatal(err error) bool {
	var use *adapter.UnsupportedSourceError
	return errors.As(err, &use)
}
