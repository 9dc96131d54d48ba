package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			settings, log, closeLog, err := opts.load()
			if err != nil {
				return err
			}
			defer closeLog()

			store, err := openStore(settings, log)
			if err != nil {
				return err
			}
			return store.Close()
		},
	}
}
