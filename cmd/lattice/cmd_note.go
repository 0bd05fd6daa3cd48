package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lattice/internal/archive"
	"lattice/internal/format"
)

var noteFlags struct {
	text string
	file string
}

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Attach and manage archive notes",
	Long: "Notes are free-form text annotations attached to an archive after it\n" +
		"is written. They sit outside the checksum manifest, so attaching or\n" +
		"removing one never invalidates the archive.",
}

var noteAddCmd = &cobra.Command{
	Use:   "add <archive> <name>",
	Short: "Attach a note from inline text or a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runNoteAdd,
}

var noteListCmd = &cobra.Command{
	Use:   "list <archive>",
	Short: "List the notes attached to an archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runNoteList,
}

var noteRemoveCmd = &cobra.Command{
	Use:   "remove <archive> <name>",
	Short: "Detach a note by name",
	Args:  cobra.ExactArgs(2),
	RunE:  runNoteRemove,
}

func init() {
	noteAddCmd.Flags().StringVar(&noteFlags.text, "text", "", "Inline note contents")
	noteAddCmd.Flags().StringVar(&noteFlags.file, "file", "", "File to read note contents from")
	noteCmd.AddCommand(noteAddCmd)
	noteCmd.AddCommand(noteListCmd)
	noteCmd.AddCommand(noteRemoveCmd)
}

func runNoteAdd(cmd *cobra.Command, args []string) error {
	if (noteFlags.text == "") == (noteFlags.file == "") {
		return fmt.Errorf("provide exactly one of --text or --file")
	}
	contents := noteFlags.text
	if noteFlags.file != "" {
		data, err := os.ReadFile(noteFlags.file)
		if err != nil {
			return err
		}
		contents = string(data)
	}
	n, err := archive.Annotate(args[0], args[1], contents)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "attached note %q (%s)\n", n.Name, n.ID)
	return nil
}

func runNoteList(cmd *cobra.Command, args []string) error {
	notes, err := archive.Notes(args[0])
	if err != nil {
		return err
	}
	tb := format.NewTable(format.ASCII)
	tb.Header("Name", "Kind", "Created", "Contents")
	for _, n := range notes {
		tb.Row(
			n.Name,
			n.Kind,
			n.CreatedAt.Format(time.RFC3339),
			format.Truncate(strings.ReplaceAll(n.Contents, "\n", " "), 60),
		)
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(tb.String(), "\n"))
	return nil
}

func runNoteRemove(cmd *cobra.Command, args []string) error {
	if err := archive.RemoveNote(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed note %q\n", args[1])
	return nil
}
