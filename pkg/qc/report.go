package qc

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

// Report is the outcome of a store comparison. It is advisory: a report
// with warnings never invalidates the new store.
type Report struct {
	OldPath         string
	NewPath         string
	BaselineMissing bool
	Info            []InfoDiff
	Counts          []CountDiff
	Warnings        []string
}

// Passed reports whether the comparison raised no warnings
func (r *Report) Passed() bool {
	return len(r.Warnings) == 0
}

// Render writes the report as tables
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "QC: %s -> %s\n", r.OldPath, r.NewPath)
	if r.BaselineMissing {
		fmt.Fprintln(w, "Baseline store not found; showing the new store only.")
	}

	info := table.NewWriter()
	info.SetOutputMirror(w)
	info.Style().Format.Header = text.FormatDefault
	info.AppendHeader(table.Row{"Info", "Old", "New", ""})
	for _, d := range r.Info {
		mark := ""
		if d.Changed() && !r.BaselineMissing && !volatileInfoKeys[d.Key] {
			mark = "*"
		}
		info.AppendRow(table.Row{d.Key, d.Old, d.New, mark})
	}
	info.Render()

	counts := table.NewWriter()
	counts.SetOutputMirror(w)
	counts.Style().Format.Header = text.FormatDefault
	counts.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	counts.AppendHeader(table.Row{"Count", "Old", "New", "Delta"})
	for _, d := range r.Counts {
		counts.AppendRow(table.Row{d.Name, d.Old, d.New, fmt.Sprintf("%+d", d.Delta())})
	}
	counts.Render()

	if r.Passed() {
		fmt.Fprintln(w, "QC passed.")
		return
	}
	fmt.Fprintf(w, "QC raised %d warning(s):\n", len(r.Warnings))
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  - %s\n", warning)
	}
}
