package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"skumap/internal/model"
	"skumap/internal/pipeline"
	"skumap/internal/tabular"
)

// parseBatchArg splits "marketplace=path".
func parseBatchArg(arg string) (marketplace, path string, err error) {
	marketplace, path, ok := strings.Cut(arg, "=")
	marketplace, path = strings.TrimSpace(marketplace), strings.TrimSpace(path)
	if !ok || marketplace == "" || path == "" {
		return "", "", fmt.Errorf("invalid batch %q, want marketplace=path", arg)
	}
	return marketplace, path, nil
}

func readBatches(args []string) ([]pipeline.Batch, error) {
	batches := make([]pipeline.Batch, 0, len(args))
	for _, arg := range args {
		mk, path, err := parseBatchArg(arg)
		if err != nil {
			return nil, err
		}
		tbl, err := tabular.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		batches = append(batches, pipeline.Batch{ID: filepath.Base(path), Marketplace: mk, Table: tbl})
	}
	return batches, nil
}

func newProcessCmd(with wrapFunc) *cobra.Command {
	var (
		out           string
		unmappedOut   string
		mappingFile   string
		workers       int
		namespace     bool
		metricsLinger time.Duration
	)
	cmd := &cobra.Command{
		Use:   "process marketplace=path [marketplace=path...]",
		Short: "normalize, clean and map marketplace exports",
		Long: `Process reads each export, normalizes it with its marketplace schema, cleans
and validates it, resolves SKUs against the mapping and merges the batches.
Batches that fail are reported and left out of the merged output.`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write merged records to a .csv or .xlsx file")
	cmd.Flags().StringVar(&unmappedOut, "unmapped-out", "", "write unresolved SKUs to a .csv or .xlsx file")
	cmd.Flags().StringVarP(&mappingFile, "mapping", "m", "", "use this mapping file instead of the stored mapping")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent batches (default from config)")
	cmd.Flags().BoolVar(&namespace, "namespace-by-source", false, "keep equal order numbers from different marketplaces apart")
	cmd.Flags().DurationVar(&metricsLinger, "metrics-linger", 0, "keep serving /metrics this long after the run")

	cmd.RunE = with(func(a *app, cmd *cobra.Command, args []string) error {
		reg, err := a.schemas()
		if err != nil {
			return err
		}
		st, err := a.openStore()
		if err != nil {
			return err
		}
		table, err := a.mappingTable(st, mappingFile)
		if err != nil {
			return err
		}
		batches, err := readBatches(args)
		if err != nil {
			return err
		}

		a.serveMetrics()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := pipeline.Config{
			Schemas:           reg,
			Mapping:           table,
			Workers:           a.cfg.Pipeline.Workers,
			NamespaceBySource: a.cfg.Pipeline.NamespaceBySource,
			Metrics:           a.metrics,
			Logger:            a.logger,
		}
		if cmd.Flags().Changed("workers") {
			cfg.Workers = workers
		}
		if cmd.Flags().Changed("namespace-by-source") {
			cfg.NamespaceBySource = namespace
		}
		res, err := pipeline.New(cfg).Run(ctx, batches)
		if err != nil {
			return err
		}

		if out != "" {
			if err := tabular.WriteFile(out, model.MappedTable(res.Records)); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		if unmappedOut != "" {
			if err := tabular.WriteFile(unmappedOut, unresolvedTable(res.Unresolved)); err != nil {
				return fmt.Errorf("write unmapped: %w", err)
			}
		}
		sinks, err := a.sinks(ctx)
		if err != nil {
			return err
		}
		if sinks.Len() > 0 {
			runID := uuid.NewString()
			if err := sinks.Write(ctx, runID, res.Records); err != nil {
				return fmt.Errorf("sink run %s: %w", runID, err)
			}
			a.logger.Info("records delivered", "run", runID, "sinks", sinks.Len(), "records", len(res.Records))
		}

		printSummary(cmd, res)
		if metricsLinger > 0 && a.cfg.Metrics.Addr != "" {
			select {
			case <-time.After(metricsLinger):
			case <-ctx.Done():
			}
		}
		if failed := res.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d of %d batches failed", len(failed), len(res.Batches))
		}
		return nil
	})
	return cmd
}

func unresolvedTable(skus []string) model.Table {
	t := model.Table{Columns: []string{model.FieldSKU}, Rows: make([]model.Row, 0, len(skus))}
	for _, s := range skus {
		t.Rows = append(t.Rows, model.Row{model.FieldSKU: s})
	}
	return t
}

func printSummary(cmd *cobra.Command, res pipeline.Result) {
	w := cmd.OutOrStdout()
	for _, b := range res.Batches {
		if b.Err != nil {
			fmt.Fprintf(w, "batch %s (%s): FAILED: %v\n", b.ID, b.Marketplace, b.Err)
			continue
		}
		fmt.Fprintf(w, "batch %s (%s): %d records, %d duplicates, %d excluded dates, %d unresolved\n",
			b.ID, b.Marketplace, len(b.Records), b.Duplicates, len(b.ExcludedDates), len(b.Unresolved))
	}
	c := res.Coverage
	fmt.Fprintf(w, "merged %d records; skus %d mapped / %d total (%.1f%%)\n",
		len(res.Records), c.MappedSKUs, c.TotalSKUs, c.Percent)
	if len(res.Unresolved) > 0 {
		fmt.Fprintf(w, "unresolved: %s\n", strings.Join(res.Unresolved, ", "))
	}
}
