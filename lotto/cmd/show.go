package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/lotto/trace"
)

var showCmd = &cobra.Command{
	Use:   "show <trace>",
	Short: "Print the records of a trace.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTrace(args[0])
		if err != nil {
			return err
		}

		schedOnly, _ := cmd.Flags().GetBool("sched")
		limit, _ := cmd.Flags().GetInt("limit")

		out := cmd.OutOrStdout()
		shown := 0

		for i, r := range t.Records() {
			if schedOnly && r.Kind != trace.KindSched {
				continue
			}

			if limit > 0 && shown >= limit {
				break
			}

			fmt.Fprintf(out, "%6d  %s\n", i, r)
			shown++
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().Bool("sched", false, "Only print scheduling records")
	showCmd.Flags().Int("limit", 0, "Print at most this many records")
}
