package cli

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"git.canoozie.net/riddling/xrefdb/pkg/loader"
	"git.canoozie.net/riddling/xrefdb/pkg/store"
)

func newBuildCommand(g *globals) *cobra.Command {
	config := loader.DefaultConfig()
	var backend, buildDate string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an identifier mapping store from a TSV file",
		Long: `
Reads identifier pairs from the input file, the first line being a header,
and writes every identifier as a node and every pair as a link. Each primary
identifier also gets a link to itself. When the build succeeds it is
compared against the previous release.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := store.ParseBackend(backend)
			if err != nil {
				return err
			}
			config.Backend = b

			if buildDate != "" {
				d, err := time.Parse(loader.DateFormat, buildDate)
				if err != nil {
					return errors.Wrapf(err, "parsing build date %q", buildDate)
				}
				config.BuildDate = d
			}

			reg, err := g.registry()
			if err != nil {
				return err
			}
			config.Logger = g.logger

			result, err := loader.NewBuilder(config, reg).Run()
			if err != nil {
				return err
			}

			out := g.stdout
			fmt.Fprintf(out, "Built %s in %s\n", result.StorePath, result.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "  build id: %s\n", result.BuildID)
			fmt.Fprintf(out, "  rows: %d, nodes: %d, links: %d, commits: %d, batches: %d\n",
				result.Rows, result.Nodes, result.Links, result.Commits, len(result.FlushSizes))
			if result.QC != nil {
				fmt.Fprintln(out)
				result.QC.Render(out)
			}
			if result.SnapshotPath != "" {
				fmt.Fprintf(out, "Released %s\n", result.SnapshotPath)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&config.InputPath, "input", "i", config.InputPath, "Tab-separated input file.")
	flags.StringVarP(&config.OutputDir, "output", "o", config.OutputDir, "Directory receiving the store.")
	flags.StringVar(&config.Series, "series", config.Series, "Name of the store series.")
	flags.StringVar(&backend, "backend", string(config.Backend), "Store backend: lsm or bolt.")
	flags.StringVar(&config.PrimaryCode, "primary", config.PrimaryCode, "System code of the first column.")
	flags.StringVar(&config.SecondaryCode, "secondary", config.SecondaryCode, "System code of the second column.")
	flags.StringVar(&config.Delimiter, "delimiter", config.Delimiter, "Field delimiter.")
	flags.IntVar(&config.FlushThreshold, "flush-threshold", config.FlushThreshold, "Rows per committed batch.")
	flags.StringVar(&config.DataSourceName, "datasource-name", config.DataSourceName, "DATASOURCENAME stored with the build.")
	flags.StringVar(&config.DataSourceVersion, "datasource-version", config.DataSourceVersion, "DATASOURCEVERSION stored with the build.")
	flags.StringVar(&config.SchemaVersion, "schema-version", config.SchemaVersion, "SCHEMAVERSION stored with the build.")
	flags.StringVar(&config.DataType, "data-type", config.DataType, "DATATYPE stored with the build.")
	flags.StringVar(&buildDate, "build-date", "", "Build date as yyyyMMdd, defaults to today.")
	flags.StringVar(&config.BaselinePath, "baseline", "", "Store to compare against, defaults to the release of the build date.")
	flags.BoolVar(&config.SkipQC, "skip-qc", false, "Do not compare against the baseline.")
	flags.Float64Var(&config.MaxQCDecrease, "max-qc-decrease", 0, "Fraction a count may shrink by before QC warns.")
	flags.BoolVar(&config.Release, "release", false, "Copy the store to its date-stamped release path.")
	flags.StringVar(&config.MetricsFile, "metrics-file", "", "Write build metrics in Prometheus text format.")
	flags.Uint64Var(&config.MemTableSize, "memtable-size", 0, "LSM write buffer size in bytes.")
	return cmd
}
