package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/lotto/trace"
)

var exportCmd = &cobra.Command{
	Use:   "export <trace>",
	Short: "Write a trace into a SQLite database.",
	Long: "`export <trace> [--db name]` writes the records of the trace " +
		"into name.sqlite3. Without --db, a unique name is generated.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTrace(args[0])
		if err != nil {
			return err
		}

		dbName, _ := cmd.Flags().GetString("db")

		e, err := trace.NewSQLiteExporter(dbName)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Export(t); err != nil {
			return err
		}

		if err := e.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n",
			t.Len(), e.Filename())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String("db", "", "Name of the database, without extension")
}
