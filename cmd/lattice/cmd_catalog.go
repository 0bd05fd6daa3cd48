package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lattice/internal/archive"
	"lattice/internal/catalog"
	"lattice/internal/format"
)

var catalogFlags struct {
	db       string
	validate bool
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the local content-addressed archive catalog",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add <archive>...",
	Short: "Index archives by content digest",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCatalogAdd,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed archives",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

var catalogFindCmd = &cobra.Command{
	Use:   "find <digest|uuid>",
	Short: "Look up an archive by content digest or result UUID",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogFind,
}

func init() {
	catalogCmd.PersistentFlags().StringVar(&catalogFlags.db,
		"db", filepath.Join(".lattice", "catalog.db"), "Catalog database path")
	catalogAddCmd.Flags().BoolVar(&catalogFlags.validate, "validate", false,
		"Verify checksums before indexing")
	catalogCmd.AddCommand(catalogAddCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogFindCmd)
}

func runCatalogAdd(cmd *cobra.Command, args []string) error {
	c, err := catalog.Open(catalogFlags.db)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	for _, path := range args {
		if catalogFlags.validate {
			if err := archive.Validate(cmd.Context(), path); err != nil {
				return fmt.Errorf("refusing to index %s: %w", path, err)
			}
		}
		e, err := c.Index(path)
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s  %s  %s\n", format.ShortDigest(e.Digest), e.UUID, e.Path)
	}
	return nil
}

func runCatalogList(cmd *cobra.Command, _ []string) error {
	c, err := catalog.Open(catalogFlags.db)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.List()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), entryTable(entries))
	return nil
}

func runCatalogFind(cmd *cobra.Command, args []string) error {
	c, err := catalog.Open(catalogFlags.db)
	if err != nil {
		return err
	}
	defer c.Close()

	key := args[0]
	if e, err := c.ByDigest(key); err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), entryTable([]catalog.Entry{e}))
		return nil
	}
	entries, err := c.ByUUID(key)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no catalog entry matches %q", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), entryTable(entries))
	return nil
}

func entryTable(entries []catalog.Entry) string {
	tb := format.NewTable(format.ASCII)
	tb.Header("Digest", "UUID", "Type", "Format", "Size", "Written", "Path")
	var total int64
	for _, e := range entries {
		tb.Row(
			format.ShortDigest(e.Digest),
			e.UUID,
			format.Truncate(e.Type, 30),
			e.Format,
			format.FmtBytes(e.Size),
			e.WrittenAt.Format(time.RFC3339),
			e.Path,
		)
		total += e.Size
	}
	if len(entries) > 1 {
		tb.Footer("TOTAL", "", "", "", format.FmtBytes(total), "", "")
	}
	tb.Columns(format.ColumnConfig{Number: 5, Align: format.AlignRight})
	return strings.TrimRight(tb.String(), "\n")
}
