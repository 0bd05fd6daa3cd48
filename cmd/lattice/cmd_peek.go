package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lattice/internal/archive"
	"lattice/internal/format"
)

var peekCmd = &cobra.Command{
	Use:   "peek <archive>",
	Short: "Show an archive's manifest without extracting it",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeek,
}

func runPeek(cmd *cobra.Command, args []string) error {
	meta, err := archive.Peek(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "UUID:      %s\n", meta.UUID)
	fmt.Fprintf(out, "Type:      %s\n", meta.Type)
	fmt.Fprintf(out, "Format:    %s\n", meta.Format)
	fmt.Fprintf(out, "Version:   %s\n", meta.Version)
	if meta.Framework != "" {
		fmt.Fprintf(out, "Framework: %s\n", meta.Framework)
	}
	fmt.Fprintf(out, "Written:   %s\n", meta.WrittenAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Data size: %s\n", format.FmtBytes(meta.DataSize))
	notes, err := archive.Notes(args[0])
	if err != nil {
		return err
	}
	if len(notes) > 0 {
		names := make([]string, len(notes))
		for i, n := range notes {
			names[i] = n.Name
		}
		fmt.Fprintf(out, "Notes:     %s\n", strings.Join(names, ", "))
	}
	return nil
}
