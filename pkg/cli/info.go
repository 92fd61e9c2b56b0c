package cli

import (
	"sort"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"git.canoozie.net/riddling/xrefdb/pkg/store"
)

func newInfoCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "info STORE",
		Short: "Show the metadata and counts of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := store.Open(args[0], g.logger)
			if err != nil {
				return err
			}
			defer r.Close()

			info, err := r.Info()
			if err != nil {
				return err
			}
			stats, err := store.Collect(r)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(info))
			for k := range info {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			t := table.NewWriter()
			t.SetOutputMirror(g.stdout)
			t.Style().Format.Header = text.FormatDefault
			t.AppendHeader(table.Row{"Key", "Value"})
			for _, k := range keys {
				t.AppendRow(table.Row{k, info[k]})
			}
			t.Render()

			counts := table.NewWriter()
			counts.SetOutputMirror(g.stdout)
			counts.Style().Format.Header = text.FormatDefault
			counts.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
			counts.AppendHeader(table.Row{"Count", "Value"})
			counts.AppendRow(table.Row{"nodes", stats.Nodes})
			counts.AppendRow(table.Row{"links", stats.Links})
			counts.AppendRow(table.Row{"reflexive links", stats.Reflexive})
			for _, name := range sortedKeys(stats.NodesByCode) {
				counts.AppendRow(table.Row{"nodes " + name, stats.NodesByCode[name]})
			}
			for _, name := range sortedKeys(stats.LinksByCode) {
				counts.AppendRow(table.Row{"links " + name, stats.LinksByCode[name]})
			}
			counts.Render()
			return nil
		},
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
