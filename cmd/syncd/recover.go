package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run startup reconciliation once and print the report",
	Long: `Reset samples stuck in syncing, clear a stale sync reference, link confirmed
server ids onto mirror points and backfill missing mirror points, then exit.
The report is printed as JSON. No sample is sent to the remote service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := a.Recover(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
