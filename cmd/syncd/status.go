package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"geotrail/syncd/internal/constants"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print queue statistics from the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := a.Repo.QueueStats.Collect(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		states := make([]string, 0, len(stats.ByState))
		for s := range stats.ByState {
			states = append(states, string(s))
		}
		sort.Strings(states)
		for _, s := range states {
			fmt.Fprintf(w, "%s\t%d\n", s, stats.ByState[constants.SampleState(s)])
		}
		fmt.Fprintf(w, "oldest pending\t%s\n", stats.OldestPendingAge.Round(time.Second))
		fmt.Fprintf(w, "active mutations\t%d\n", stats.ActiveMutations)
		fmt.Fprintf(w, "rejected mutations\t%d\n", stats.RejectedMutations)
		fmt.Fprintf(w, "mirror points\t%d\n", stats.MirrorPoints)
		fmt.Fprintf(w, "unlinked points\t%d\n", stats.UnlinkedPoints)
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(statusCmd)
}
