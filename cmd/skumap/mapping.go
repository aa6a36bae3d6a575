package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"skumap/internal/changelog"
	"skumap/internal/manifest"
	"skumap/internal/mapping"
	"skumap/internal/restore"
	"skumap/internal/store"
)

func newMappingCmd(with wrapFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "manage the SKU to master SKU mapping",
		Long: `Mapping edits go through a journal: every add and remove is appended to the
changelog and applied to the durable store. Snapshots capture the whole table;
restore rebuilds the store from the latest snapshot plus newer changelog entries.`,
	}
	cmd.AddCommand(
		newMappingLoadCmd(with),
		newMappingAddCmd(with),
		newMappingRemoveCmd(with),
		newMappingListCmd(with),
		newMappingExportCmd(with),
		newMappingLookupCmd(with),
		newMappingSnapshotCmd(with),
		newMappingRestoreCmd(with),
	)
	return cmd
}

// storedTable opens the durable store and hydrates a table from it.
func storedTable(a *app) (store.Store, *mapping.Table, error) {
	st, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	t := mapping.NewTable(a.logger)
	if err := store.Hydrate(st, t); err != nil {
		return nil, nil, fmt.Errorf("hydrate mapping: %w", err)
	}
	return st, t, nil
}

// takeSnapshot writes the store to a new snapshot and publishes it as latest.
func takeSnapshot(a *app, st store.Store) (string, error) {
	id := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
	dump, err := a.snapshotter().WriteSnapshot(id, st)
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := a.manifestPublisher().PublishLatest(id, dump.Seq); err != nil {
		return "", fmt.Errorf("publish manifest: %w", err)
	}
	a.logger.Info("snapshot written", "snapshot", id, "mappings", len(dump.Entries), "seq", dump.Seq)
	return id, nil
}

func newMappingLoadCmd(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "load file",
		Short: "replace the stored mapping with a SKU/MSKU file and snapshot it",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(a *app, cmd *cobra.Command, args []string) error {
			st, t, err := storedTable(a)
			if err != nil {
				return err
			}
			res, err := t.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := store.Persist(st, t); err != nil {
				return fmt.Errorf("persist mapping: %w", err)
			}
			// A bulk load is not journaled; the snapshot is what restore starts from.
			id, err := takeSnapshot(a, st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d mappings (%d rows skipped), snapshot %s\n", res.Loaded, res.Skipped, id)
			return nil
		}),
	}
}

func newMappingAddCmd(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "add sku msku",
		Short: "map a listing SKU to a master SKU",
		Args:  cobra.ExactArgs(2),
		RunE: with(func(a *app, cmd *cobra.Command, args []string) error {
			st, t, err := storedTable(a)
			if err != nil {
				return err
			}
			j, err := a.journal(t, st)
			if err != nil {
				return err
			}
			c, err := j.Add(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seq %d: %s -> %s\n", c.Seq, c.SKU, c.MasterID)
			return nil
		}),
	}
}

func newMappingRemoveCmd(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "remove sku",
		Short: "remove a listing SKU from the mapping",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(a *app, cmd *cobra.Command, args []string) error {
			st, t, err := storedTable(a)
			if err != nil {
				return err
			}
			j, err := a.journal(t, st)
			if err != nil {
				return err
			}
			c, ok, err := j.Remove(args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not mapped\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seq %d: removed %s\n", c.Seq, c.SKU)
			return nil
		}),
	}
}

func newMappingListCmd(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "print the stored mapping",
		Args:  cobra.NoArgs,
		RunE: with(func(a *app, cmd *cobra.Command, args []string) error {
			_, t, err := storedTable(a)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "%s\t%s\n", mapping.ColumnSKU, mapping.ColumnMSKU)
			for _, e := range t.Entries() {
				fmt.Fprintf(tw, "%s\t%s\n", e.SKU, e.MasterID)
			}
			fmt.Fprintf(tw, "\n%d mappings, seq %d\n", t.Len(), t.LastSeq())
			return tw.Flush()
		}),
	}
}

func newMappingExportCmd(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "export file",
		Short: "write the stored mapping to a .csv or .xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(a *app, cmd *cobra.Command, args []string) error {
			_, t, err := storedTable(a)
			if err != nil {
				return err
			}
			return t.ExportFile(args[0])
		}),
	}
}

func newMappingLookupCmd(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup sku [sku...]",
		Short: "resolve listing SKUs against the stored mapping",
		Args:  cobra.MinimumNArgs(1),
		RunE: with(func(a *app, cmd *cobra.Command, args []string) error {
			_, t, err := storedTable(a)
			if err != nil {
				return err
			}
			res := mapping.BatchMap(t, args)
			for _, sku := range args {
				if m := res[sku]; m != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", sku, *m)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t-\n", sku)
				}
			}
			return nil
		}),
	}
}

func newMappingSnapshotCmd(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "snapshot the stored mapping and publish the manifest",
		Args:  cobra.NoArgs,
		RunE: with(func(a *app, cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			id, err := takeSnapshot(a, st)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
}

func newMappingRestoreCmd(with wrapFunc) *cobra.Command {
	var (
		fromKafka bool
		idle      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "rebuild the store from the latest snapshot and the changelog",
		Long: `Restore loads the snapshot named by the latest manifest and replays changelog
entries with a seq above it. With --from-kafka the manifest and the changelog
are read from their kafka topics instead of the local files.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&fromKafka, "from-kafka", false, "read manifest and changelog from kafka")
	cmd.Flags().DurationVar(&idle, "idle", 10*time.Second, "stop kafka replay after the topic is idle this long")

	cmd.RunE = with(func(a *app, cmd *cobra.Command, args []string) error {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		var res restore.RestoreResult
		if fromKafka {
			res, err = restoreFromKafka(cmd.Context(), a, st, idle)
		} else {
			r := restore.NewRestorer(st, a.snapshotter(), manifest.NewFilesystemManifest(a.cfg.Mapping.SnapshotDir),
				a.changelogPath(), a.metrics, a.logger)
			res, err = r.RestoreAndReplay()
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored snapshot %s: applied %d, skipped %d, seq %d\n",
			res.SnapshotID, res.Applied, res.Skipped, st.LastSeq())
		return nil
	})
	return cmd
}

func restoreFromKafka(ctx context.Context, a *app, st store.Store, idle time.Duration) (restore.RestoreResult, error) {
	m := a.cfg.Mapping
	if m.KafkaBrokers == "" || m.ManifestTopic == "" {
		return restore.RestoreResult{}, fmt.Errorf("--from-kafka needs mapping.kafka_brokers and mapping.manifest_topic")
	}
	brokers := changelog.ParseBrokers(m.KafkaBrokers)
	mr := restore.NewKafkaReader(brokers, m.ManifestTopic, manifestKey)
	r := restore.NewRestorer(st, a.snapshotter(), mr, "", a.metrics, a.logger)

	latest, err := mr.ReadLatest()
	if err != nil {
		return restore.RestoreResult{}, fmt.Errorf("read manifest: %w", err)
	}
	if err := r.RestoreFromSnapshot(latest.SnapshotID); err != nil {
		return restore.RestoreResult{}, fmt.Errorf("restore snapshot: %w", err)
	}
	res := r.ReplayChangelogKafka(ctx, restore.NewKafkaMessageReader(brokers, m.KafkaTopic), latest.LastSeq, idle)
	res.SnapshotID = latest.SnapshotID
	return res, res.Error
}
