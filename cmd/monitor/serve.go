package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/originsmart/facility-monitor/internal/alerting"
	"github.com/originsmart/facility-monitor/internal/api"
	apiv2 "github.com/originsmart/facility-monitor/internal/api/v2"
	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/ingest"
	"github.com/originsmart/facility-monitor/internal/logger"
	"github.com/originsmart/facility-monitor/internal/mqtt"
	"github.com/originsmart/facility-monitor/internal/notification"
	"github.com/originsmart/facility-monitor/internal/observability/metrics"
	"github.com/originsmart/facility-monitor/internal/observability/sentry"
)

// redisPingTimeout bounds the startup connectivity check.
const redisPingTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, ingestion and the alert engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, closeLog, err := opts.load()
			if err != nil {
				return err
			}
			defer closeLog()
			return serve(cmd.Context(), settings, log)
		},
	}
}

func serve(ctx context.Context, s *conf.Settings, log logger.Logger) error {
	log.Info("starting facility monitor",
		logger.String("version", version),
		logger.String("environment", s.Main.Environment))

	reporter, err := sentry.New(s.Sentry, version)
	if err != nil {
		return err
	}
	if reporter != nil {
		reporter.Install()
		defer reporter.Flush()
	}

	store, err := openStore(s, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	repos := newRepositories(store)

	mailer, err := notification.NewFromSettings(s.Mail, log)
	if err != nil {
		return err
	}
	m := metrics.New()

	var rdb redis.UniversalClient
	if s.Redis.Enabled {
		client, err := newRedisClient(ctx, s.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		rdb = client
		log.Info("redis lock backend connected", logger.String("addr", s.Redis.Addr))
	}

	components, err := alerting.Initialize(s, alerting.Deps{
		Alerts:  repos.alerts,
		Devices: repos.devices,
		Logs:    repos.logs,
		Mailer:  mailer,
		Metrics: m,
		Redis:   rdb,
	}, log)
	if err != nil {
		return err
	}
	defer components.Close()
	components.Start()

	ingestor := ingest.NewIngestor(repos.devices, repos.telemetry, components.Bus, m, log)

	if s.MQTT.Enabled {
		sub := mqtt.NewSubscriber(s.MQTT, ingestor, log)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
	}

	loc, err := s.Alerting.Location()
	if err != nil {
		return err
	}
	server := api.NewServer(s.Server, apiv2.Deps{
		Alerts:      components.Service,
		Gateway:     components.Gateway,
		Bus:         components.Bus,
		Invalidator: components.Engine,
		Devices:     repos.devices,
		Telemetry:   repos.telemetry,
		Ingestor:    ingestor,
		Location:    loc,
	}, m, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return server.Shutdown(context.Background())
	})
	return g.Wait()
}

func newRedisClient(ctx context.Context, s conf.RedisSettings) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New(err).
			Component("redis").
			Category(errors.CategoryNetwork).
			Context("addr", s.Addr).
			Build()
	}
	return client, nil
}
