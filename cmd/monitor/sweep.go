package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one offline sweep over every device and exit",
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

			components, err := newOfflineAlerting(settings, newRepositories(store), log)
			if err != nil {
				return err
			}
			defer components.Close()

			res, err := components.Engine.SweepOffline(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked offline: %d, marked online: %d\n", res.MarkedOffline, res.MarkedOnline)
			return nil
		},
	}
}
