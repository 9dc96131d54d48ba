package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/originsmart/facility-monitor/internal/logger"
)

func newPruneCmd(opts *rootOptions) *cobra.Command {
	var telemetryDays int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete alert logs past retention and old telemetry events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, closeLog, err := opts.load()
			if err != nil {
				return err
			}
			defer closeLog()

			store, err := openStore(settings, log)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			repos := newRepositories(store)
			components, err := newOfflineAlerting(settings, repos, log)
			if err != nil {
				return err
			}
			defer components.Close()

			logs, err := components.Engine.PruneLogs(cmd.Context())
			if err != nil {
				return err
			}

			var events int64
			if telemetryDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -telemetryDays)
				if events, err = repos.telemetry.DeleteEventsBefore(cmd.Context(), cutoff); err != nil {
					return err
				}
				log.Info("telemetry events pruned",
					logger.Int64("deleted", events),
					logger.Time("before", cutoff))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "alert logs deleted: %d, telemetry events deleted: %d\n", logs, events)
			return nil
		},
	}
	cmd.Flags().IntVar(&telemetryDays, "telemetry-days", 30, "delete telemetry events older than this many days (0 keeps all)")
	return cmd
}
