package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/lotto/trace"
)

var validateCmd = &cobra.Command{
	Use:   "validate <trace>",
	Short: "Check the structure of a trace.",
	Long: "`validate <trace>` checks that the trace starts with START, that " +
		"its clocks increase and, unless --partial is set, that it ends " +
		"with EXIT.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTrace(args[0])
		if err != nil {
			return err
		}

		partial, _ := cmd.Flags().GetBool("partial")

		if err := trace.Validate(t, !partial); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s\tOK (%d records)\n", args[0], t.Len())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("partial", false,
		"Accept traces that do not end with EXIT")
}
