package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lattice/internal/archive"
	"lattice/internal/format"
)

var provenanceFlags struct {
	markdown bool
}

var provenanceCmd = &cobra.Command{
	Use:   "provenance <archive>",
	Short: "Render an archive's lineage as a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvenance,
}

func init() {
	provenanceCmd.Flags().BoolVar(&provenanceFlags.markdown, "markdown", false, "Render as a Markdown table")
}

func runProvenance(cmd *cobra.Command, args []string) error {
	nodes, err := archive.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	mode := format.ASCII
	if provenanceFlags.markdown {
		mode = format.Markdown
	}
	tb := format.NewTable(mode)
	tb.Header("Node", "Kind", "Action", "Version", "Output", "Parents")
	for _, n := range nodes {
		action := n.Action
		if n.Plugin != "" {
			action = n.Plugin + ":" + n.Action
		}
		tb.Row(
			format.ShortDigest(string(n.ID)),
			string(n.Kind),
			action,
			n.Version,
			n.OutputName,
			len(n.Parents),
		)
	}
	tb.Columns(format.ColumnConfig{Number: 6, Align: format.AlignRight})
	fmt.Fprintln(cmd.OutOrStdout(), tb.String())
	return nil
}
