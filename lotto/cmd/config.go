package cmd

import (
	"fmt"

	"github.com/fatih/structs"
	"github.com/spf13/cobra"

	"github.com/sarchlab/lotto/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration read from the environment.",
	Long: "`config` prints the configuration a lotto run would use, read " +
		"from the LOTTO_* variables and the .env file of the current " +
		"directory.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, f := range structs.Fields(cfg) {
			fmt.Fprintf(out, "%-18s %v\n", f.Name(), f.Value())
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
