package cli

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"git.canoozie.net/riddling/xrefdb/pkg/qc"
)

var errQCFailed = errors.New("qc raised warnings")

func newQCCommand(g *globals) *cobra.Command {
	config := qc.DefaultConfig()
	var strict bool

	cmd := &cobra.Command{
		Use:   "qc OLD NEW",
		Short: "Compare two stores",
		Long: `
Compares the metadata and the node and link counts of two stores and
warns about dropped metadata and shrinking counts.
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.Logger = g.logger
			report, err := qc.New(config).Compare(args[0], args[1])
			if err != nil {
				return err
			}
			report.Render(g.stdout)
			if strict && !report.Passed() {
				return errQCFailed
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&config.MaxDecrease, "max-decrease", config.MaxDecrease, "Fraction a count may shrink by before QC warns.")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when QC raises warnings.")
	return cmd
}
