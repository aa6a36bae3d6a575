package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"skumap/internal/aggregate"
	"skumap/internal/intent"
	"skumap/internal/model"
	"skumap/internal/pipeline"
	"skumap/internal/sink"
	"skumap/internal/tabular"
)

func newQueryCmd(with wrapFunc) *cobra.Command {
	var (
		inputs      []string
		mappingFile string
		out         string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "query question",
		Short: "answer a sales trend, top products or category performance question",
		Long: `Query classifies a short question and aggregates mapped sales to answer it.
Records come from the SQLite sink unless --input exports are given, in which
case they are processed first without being delivered anywhere.

Recognized questions:
  show sales trend [for the last N days|weeks|months] [between DATE and DATE]
  show top N products [...]
  show category performance [...]`,
		Example: `  $ skumap query "show top 5 products for the last 30 days"
  $ skumap query "show category performance" --input amazon=./amazon.csv`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "marketplace=path export to query instead of the SQLite sink")
	cmd.Flags().StringVarP(&mappingFile, "mapping", "m", "", "mapping file for --input processing")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the answer to a .csv or .xlsx file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer as JSON")

	cmd.RunE = with(func(a *app, cmd *cobra.Command, args []string) error {
		in, err := intent.Parse(strings.Join(args, " "))
		if err != nil {
			return err
		}

		var recs []model.MappedRecord
		if len(inputs) > 0 {
			recs, err = processInputs(cmd.Context(), a, inputs, mappingFile)
		} else {
			recs, err = readSQLite(cmd.Context(), a)
		}
		if err != nil {
			return err
		}

		rep, err := aggregate.Answer(in, recs, time.Now().UTC())
		if err != nil {
			return err
		}
		a.logger.Debug("query answered", "intent", rep.Kind, "records", len(recs), "buckets", len(rep.Buckets))

		if out != "" {
			return tabular.WriteFile(out, rep.Table())
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		return printTable(cmd, rep.Table())
	})
	return cmd
}

func processInputs(ctx context.Context, a *app, inputs []string, mappingFile string) ([]model.MappedRecord, error) {
	reg, err := a.schemas()
	if err != nil {
		return nil, err
	}
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	table, err := a.mappingTable(st, mappingFile)
	if err != nil {
		return nil, err
	}
	batches, err := readBatches(inputs)
	if err != nil {
		return nil, err
	}
	res, err := pipeline.New(pipeline.Config{
		Schemas:           reg,
		Mapping:           table,
		Workers:           a.cfg.Pipeline.Workers,
		NamespaceBySource: a.cfg.Pipeline.NamespaceBySource,
		Metrics:           a.metrics,
		Logger:            a.logger,
	}).Run(ctx, batches)
	if err != nil {
		return nil, err
	}
	for _, f := range res.Failed() {
		a.logger.Warn("batch left out of query", "batch", f.ID, "marketplace", f.Marketplace, "error", f.Err)
	}
	return res.Records, nil
}

func readSQLite(ctx context.Context, a *app) ([]model.MappedRecord, error) {
	if a.cfg.Sink.SQLitePath == "" {
		return nil, fmt.Errorf("no records to query: set sink.sqlite_path or pass --input")
	}
	s, err := sink.OpenSQLite(a.cfg.Sink.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.onClose(s)
	return s.ReadAll(ctx)
}

func printTable(cmd *cobra.Command, t model.Table) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Columns, "\t"))
	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cells[i] = model.Text(row[c])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}
