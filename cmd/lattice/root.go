package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lattice/internal/logging"
	"lattice/internal/provenance"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Inspect provenance-tracked result archives",
	Long: "Lattice inspects archives produced by the lattice framework:\n" +
		"manifest, integrity, lineage, and a local content-addressed catalog.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logging.Init(logging.ParseLevel(rootFlags.logLevel), rootFlags.logFormat)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(peekCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(provenanceCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.Version = version
	provenance.FrameworkVersion = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
