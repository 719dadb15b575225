// Package cmd implements the command-line surface over earray/farray
// files: a cobra root command with global output flags plus a handful
// of subcommands, with all fmt-based reporting confined to this layer —
// the core packages never print.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "hdf5arrays",
	Short: "Inspect and scaffold HDF5-style Extensible Array and Fixed Array files",
	Long: `hdf5arrays is a command-line tool for creating and inspecting files that
hold an Extensible Array (EA) or Fixed Array (FA) addressing-tree structure:
an index-addressed, lazily-allocated element array backed by a shared
metadata-cache protect/unprotect protocol.

Commands:
  create   scaffold a new empty EA or FA header in a fresh file
  inspect  open an existing EA or FA header and print its cparam/stats`,
	Version: "0.1.0-dev",
}

// Execute runs the root command, exiting with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose flag; no command changes its output for it")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format; every command prints plain text whatever the value")
}
