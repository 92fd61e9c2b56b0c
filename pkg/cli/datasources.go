package cli

import (
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"
)

func newDatasourcesCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "datasources",
		Short: "List the known datasources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := g.registry()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(g.stdout)
			t.Style().Format.Header = text.FormatDefault
			t.AppendHeader(table.Row{"Code", "Name", "Type", "Primary", "URN"})
			for _, ds := range reg.All() {
				t.AppendRow(table.Row{ds.SystemCode, ds.FullName, ds.Type, ds.Primary, ds.URNBase})
			}
			t.Render()
			return nil
		},
	}
}
