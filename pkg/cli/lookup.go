package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
	"git.canoozie.net/riddling/xrefdb/pkg/store"
)

func newLookupCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup STORE CODE:ID...",
		Short: "Print the identifiers mapped to each given identifier",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := g.registry()
			if err != nil {
				return err
			}

			xrefs := make([]model.Xref, 0, len(args)-1)
			for _, arg := range args[1:] {
				x, err := model.ParseXref(arg)
				if err != nil {
					return err
				}
				if _, err := reg.ResolveBySystemCode(x.SystemCode); err != nil {
					g.logger.Warn("%s: %v", arg, err)
				}
				xrefs = append(xrefs, x)
			}

			r, err := store.Open(args[0], g.logger)
			if err != nil {
				return err
			}
			defer r.Close()

			for _, x := range xrefs {
				mapped, err := r.MapID(x)
				if err != nil {
					return err
				}
				for _, m := range mapped {
					fmt.Fprintf(g.stdout, "%s\t%s\n", x, m)
				}
			}
			return nil
		},
	}
}
