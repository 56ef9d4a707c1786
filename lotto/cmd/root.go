// Package cmd provides the command-line interface for lotto.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/lotto/trace"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lotto",
	Short: "Lotto CLI tool inspects the traces of deterministic runs.",
	Long: `Lotto CLI tool inspects the traces recorded by programs running ` +
		`under the lotto scheduler. It can print, validate and export ` +
		`traces, and serve them on a dashboard.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// openTrace loads an existing trace.
func openTrace(path string) (*trace.File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}

	return trace.Open(path)
}
