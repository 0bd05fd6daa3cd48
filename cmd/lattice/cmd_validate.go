package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lattice/internal/archive"
	"lattice/internal/format"
)

var validateCmd = &cobra.Command{
	Use:   "validate <archive>...",
	Short: "Verify archive integrity (checksums and structure)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	tb := format.NewTable(format.ASCII)
	tb.Header("Archive", "Valid", "Error")
	var failed int
	for _, path := range args {
		err := archive.Validate(cmd.Context(), path)
		msg := ""
		if err != nil {
			msg = err.Error()
			failed++
		}
		tb.Row(path, format.BoolMark(err == nil), format.Truncate(msg, 60))
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(tb.String(), "\n"))
	if failed > 0 {
		return fmt.Errorf("%d of %d archives failed validation", failed, len(args))
	}
	return nil
}
