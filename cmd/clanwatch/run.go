package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/clanwatch/pkg/config"
	"github.com/Sternrassler/clanwatch/pkg/logging"
	"github.com/Sternrassler/clanwatch/pkg/notify"
	"github.com/Sternrassler/clanwatch/pkg/pipeline"
	"github.com/Sternrassler/clanwatch/pkg/ratelimit"
	"github.com/Sternrassler/clanwatch/pkg/registry"
	"github.com/Sternrassler/clanwatch/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd() *cobra.Command {
	var (
		cfgFile string
		once    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start watching the configured clans",
		Long: `Start the watcher. Configuration comes from flags, CLANWATCH_*
environment variables (or the legacy variable names such as
APPLICATION_ID and DATAFILE), and an optional YAML file.

With --once, or with both update intervals set to 0, every clan is
resolved and refreshed once and the command exits after all
notifications have been sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cfgFile)
			if err != nil {
				return err
			}
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			if once {
				v.Set("resolve_interval", 0)
				v.Set("refresh_interval", 0)
			}

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "YAML config file")
	flags.BoolVar(&once, "once", false, "resolve and refresh every clan once, then exit")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human-readable console logs")
	flags.String("data-file", "", "CSV roster file")
	flags.String("storage", "", "roster backend (csv, redis)")
	flags.String("redis-addr", "", "Redis address for the redis backend")
	flags.String("application-id", "", "Wargaming application id")
	flags.String("webhook-url", "", "Discord webhook for notifications")
	flags.String("metrics-addr", "", "listen address for /health and /metrics (empty disables)")
	return cmd
}

// flagKeys maps command flags to configuration keys. Flags a command does not
// define are skipped.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-pretty":     "log.pretty",
	"data-file":      "storage.csv_path",
	"storage":        "storage.backend",
	"redis-addr":     "storage.redis_addr",
	"application-id": "application_id",
	"webhook-url":    "notify.webhook_url",
	"metrics-addr":   "metrics.addr",
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// run wires the watcher from cfg and blocks until it stops.
func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.Setup(cfg.Logging())

	store, closeStore, err := openStore(ctx, cfg.Storage, logging.NewLogger("storage"))
	if err != nil {
		return err
	}
	defer closeStore()

	snapshots, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	reg := registry.New(snapshots, logging.NewLogger("registry"))

	apiLimiter, err := ratelimit.New("api", cfg.API.RateLimit, cfg.API.RateWindow)
	if err != nil {
		return err
	}
	notifyLimiter, err := ratelimit.New("notify", cfg.Notify.RateLimit, cfg.Notify.RateWindow)
	if err != nil {
		return err
	}
	logLimiter(logger, apiLimiter)
	logLimiter(logger, notifyLimiter)

	sink, err := newSink(cfg.Notify, logger)
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg.Pipeline(), reg, store, apiLimiter, notifyLimiter, sink, logger)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv := startServer(cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Str("version", Version).
		Str("storage", cfg.Storage.Backend).
		Int("clans", reg.Len()).
		Msg("clanwatch starting")

	// A failed final save is logged by the pipeline and does not fail the run.
	err = p.Run(ctx)
	if errors.Is(err, storage.ErrEmptyRoster) {
		logger.Warn().Msg("Roster is empty, nothing was saved")
		return nil
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Shutdown complete without saving the roster")
		return nil
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}

func logLimiter(logger zerolog.Logger, l *ratelimit.Limiter) {
	logger.Info().
		Str("limiter", l.Name()).
		Dur("interval", l.Interval()).
		Msg("Rate limiter configured")
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (storage.Store, func(), error) {
	switch cfg.Backend {
	case storage.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")

		return storage.NewRedisStore(client, cfg.RedisKey, logger), func() { client.Close() }, nil
	default:
		return storage.NewCSVStore(cfg.CSVPath, logger), func() {}, nil
	}
}

func newSink(cfg config.NotifyConfig, logger zerolog.Logger) (notify.Sink, error) {
	if cfg.WebhookURL == "" {
		logger.Warn().Msg("No webhook configured, notifications go to the log")
		return notify.NewLogSink(logging.NewLogger("notifier")), nil
	}
	return notify.NewWebhookSink(notify.WebhookConfig{
		URL:      cfg.WebhookURL,
		Username: cfg.Username,
	})
}
