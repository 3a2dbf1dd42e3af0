// Command gatewarden supervises Discord gateway shards and mirrors their
// guild/channel state into Redis, exposing guild and event metrics on an
// optional authenticated Prometheus endpoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/polaris-labs/gatewarden/internal/cache"
	"github.com/polaris-labs/gatewarden/internal/config"
	"github.com/polaris-labs/gatewarden/internal/gateway"
	"github.com/polaris-labs/gatewarden/internal/logging"
	"github.com/polaris-labs/gatewarden/internal/metrics"
	"github.com/polaris-labs/gatewarden/internal/metricsrv"
	"github.com/polaris-labs/gatewarden/internal/report"
	"github.com/polaris-labs/gatewarden/internal/supervisor"
)

// version is stamped at build time via -ldflags.
var version = "dev"

const reporterFlushTimeout = 2 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		// The configured level is unknown at this point; a plain info
		// logger reports the startup failure.
		fallback := logging.New(config.DefaultLogLevel)
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info().
		Str("version", version).
		Int("shards", cfg.ShardCount).
		Str("redis", cfg.RedisAddr()).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("gatewarden starting")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("gatewarden exited with error")
	}
	logger.Info().Msg("gatewarden stopped")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter := report.Nop()
	if cfg.SentryDSN != "" {
		sentryReporter, err := report.NewSentry(cfg.SentryDSN, version)
		if err != nil {
			return err
		}
		reporter = sentryReporter
		logger.Info().Msg("error reporting enabled")
	}
	defer reporter.Flush(reporterFlushTimeout)

	registry := metrics.NewRegistry()

	store, err := cache.New(ctx, cfg.RedisAddr(), cfg.RedisPassword,
		cache.WithCommandHook(registry.ObserveCacheCommand),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing cache connection failed")
		}
	}()
	logger.Info().Str("addr", cfg.RedisAddr()).Msg("connected to redis")

	info, err := gateway.NewResolver().GatewayBot(ctx, cfg.Token)
	if err != nil {
		return err
	}
	logger.Info().
		Str("gateway_url", info.URL).
		Int("recommended_shards", info.Shards).
		Msg("gateway url resolved")

	sup, err := supervisor.New(supervisor.Config{
		ShardCount:   cfg.ShardCount,
		PollInterval: cfg.GuildPollInterval,
		Logger:       logger,
		Metrics:      registry,
		Connect: func(ctx context.Context, shardID int) (supervisor.Shard, error) {
			client := gateway.NewClient(gateway.Options{
				Token:      cfg.Token,
				ShardID:    shardID,
				ShardCount: cfg.ShardCount,
				URL:        info.URL,
				Logger:     logger,
				Store:      store,
				OnEvent:    registry.ObserveGatewayEvent,
				OnError: func(err error) {
					logger.Warn().Err(err).Int("shard", shardID).Msg("packet handler error")
					reporter.CaptureException(err, map[string]string{
						"shard": strconv.Itoa(shardID),
					})
				},
			})
			if err := client.Connect(ctx); err != nil {
				return nil, err
			}
			return client, nil
		},
	})
	if err != nil {
		return err
	}

	if err := sup.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := sup.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing shards failed")
		}
	}()

	go sup.RunGuildPoller(ctx)

	if cfg.Metrics.Enabled {
		srv := metricsrv.New(
			metricsrv.WithAddr(cfg.Metrics.Addr()),
			metricsrv.WithAuthToken(cfg.Metrics.AuthToken),
			metricsrv.WithLogger(logger),
			metricsrv.WithHandler(registry.Handler()),
		)
		// The metrics server handles ctx cancellation and shuts down
		// gracefully on its own; its exit also ends the process.
		return srv.ListenAndServe(ctx)
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	return nil
}
