package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lattice/internal/archive"
)

var extractFlags struct {
	outDir string
}

var extractCmd = &cobra.Command{
	Use:   "extract <archive>",
	Short: "Export an archive's data section to a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractFlags.outDir, "out", "o", ".", "Destination directory")
}

func runExtract(cmd *cobra.Command, args []string) error {
	if err := archive.Extract(cmd.Context(), args[0], extractFlags.outDir); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "extracted %s to %s\n", args[0], extractFlags.outDir)
	return nil
}
