package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Enqueue every catalog pair on an interval",
		Long: `Reads companies and their sources from the catalog and queues one
fetch task per pair, immediately and then every scheduler.interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sched, err := a.Scheduler(cmd.Context())
			if err != nil {
				return err
			}
			if !once {
				return sched.Run(cmd.Context())
			}
			report, err := sched.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d tasks (%d failed)\n", report.Enqueued, report.Failed)
			return err
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}
