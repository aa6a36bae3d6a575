// Command skumap normalizes marketplace sales exports, resolves listing SKUs
// to master SKUs and answers simple analytics questions over the result.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

type runFunc func(a *app, cmd *cobra.Command, args []string) error

// wrapFunc turns a runFunc into a cobra RunE that owns the app lifecycle.
type wrapFunc func(runFunc) func(*cobra.Command, []string) error

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:     "skumap",
		Short:   "SKU mapping and sales normalization",
		Version: version,
		Long: `skumap turns Amazon, eBay, Shopify and declared marketplace exports into one
canonical sales table, maps every listing SKU to its master SKU and keeps the
mapping itself in a journaled, snapshotted store.`,
		Example: `  # Process two exports against the stored mapping
  $ skumap process amazon=./amazon.csv shopify=./shopify.xlsx -o mapped.csv

  # Replace the stored mapping with a file, then snapshot it
  $ skumap mapping load ./mapping.csv

  # Ask a question over the SQLite sink
  $ skumap query "show top 5 products for the last 30 days"`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config file (default ./configs/config.yaml or ./config.yaml)")

	var with wrapFunc = func(fn runFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					a.logger.Warn("close resources", "error", err)
				}
			}()
			return fn(a, cmd, args)
		}
	}

	root.AddCommand(newProcessCmd(with), newMappingCmd(with), newQueryCmd(with))
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
