package main

import (
	"os"
	"os/signal"
	"syscall"

	"geotrail/syncd/internal/logging"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon: reconcile, then drain and serve the control API",
	Long: `Run startup reconciliation, then supervise the sample and mutation drains, the
timeline recorder, the queue monitor, retention purging, the optional connectivity
prober and Redis relay, and the local control API until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, cleanup, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.Run(ctx); err != nil {
			logging.Error("syncd stopped with error", "error", err)
			return err
		}
		logging.Info("syncd stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
