package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/datastore"
	"github.com/originsmart/facility-monitor/internal/logger"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "monitor",
		Short:         "Facility telemetry monitor and alert engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default ./config.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSweepCmd(opts),
		newPruneCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads settings and builds the configured logger.
func (o *rootOptions) load() (*conf.Settings, logger.Logger, func(), error) {
	settings, err := conf.Load(o.configFile)
	if err != nil {
		return nil, nil, nil, err
	}
	log, closeLog, err := newLogger(settings)
	if err != nil {
		return nil, nil, nil, err
	}
	return settings, log, closeLog, nil
}

func newLogger(s *conf.Settings) (logger.Logger, func(), error) {
	level := logger.ParseLevel(s.Logging.Level)
	if s.Logging.Backend == "slog" {
		return logger.NewSlogLogger(os.Stdout, level, []logger.Field{
			logger.String("service_name", s.Main.Name),
		}), func() {}, nil
	}
	z, err := logger.NewZapLogger(level, s.Logging.Format, s.Main.Name)
	if err != nil {
		return nil, nil, err
	}
	return z, func() { _ = z.Sync() }, nil
}

// openStore opens the database and migrates the schema.
func openStore(s *conf.Settings, log logger.Logger) (*datastore.Manager, error) {
	store, err := datastore.Open(s.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info("database ready",
		logger.String("type", s.Database.Type),
		logger.Bool("mysql", store.IsMySQL()))
	return store, nil
}
