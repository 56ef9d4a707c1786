package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/lotto/monitoring"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard <trace>",
	Short: "Serve a trace on the monitoring dashboard.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTrace(args[0])
		if err != nil {
			return err
		}

		port, _ := cmd.Flags().GetInt("port")
		noBrowser, _ := cmd.Flags().GetBool("no-browser")

		m := monitoring.NewMonitor().WithPortNumber(port)
		m.RegisterTrace(t)
		m.StartServer()

		defer func() {
			if err := m.StopServer(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
		}()

		if !noBrowser {
			if err := browser.OpenURL(m.URL()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Cannot open a browser: %v\n", err)
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s, press Ctrl-C to stop\n",
			args[0], m.URL())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		return nil
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	dashboardCmd.Flags().Int("port", 0, "Port of the dashboard, random if 0")
	dashboardCmd.Flags().Bool("no-browser", false, "Do not open a browser")
}
