package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/copytrade/router/internal/blob/s3"
	"github.com/copytrade/router/internal/config"
	"github.com/copytrade/router/internal/domain"
	"github.com/copytrade/router/internal/filter"
	"github.com/copytrade/router/internal/monitor"
	"github.com/copytrade/router/internal/notify"
	"github.com/copytrade/router/internal/perf"
	"github.com/copytrade/router/internal/pool"
	"github.com/copytrade/router/internal/router"
	"github.com/copytrade/router/internal/store"
	"github.com/copytrade/router/internal/store/pgstore"
	"github.com/copytrade/router/internal/store/redisstore"
)

// Dependencies bundles every component the router needs to run, constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store    store.Store
	History  *pgstore.HistoryStore // nil when Postgres is not configured
	Pool     *pool.Client
	Notifier *notify.Notifier
	Router   *router.Router
	Perf     *perf.Monitor
	HMACKey  []byte // nil unless control_bus.enabled
}

func pgConfigured(cfg *config.Config) bool {
	return cfg.Postgres.DSN != "" || cfg.Postgres.Host != ""
}

// Wire constructs every dependency from cfg and returns them together with a
// cleanup function that releases connections on shutdown.
func Wire(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Pool.BaseURL == "" {
		return nil, cleanup, fmt.Errorf("app: pool.base_url is required")
	}

	st, err := redisstore.New(ctx, redisstore.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("app: connect redis: %w", err)
	}
	closers = append(closers, func() {
		if err := st.Close(); err != nil {
			log.Warn("close state store", "error", err)
		}
	})

	poolClient := pool.New(pool.Config{
		BaseURL:    cfg.Pool.BaseURL,
		Timeout:    cfg.Pool.Timeout.Duration,
		MaxRetries: cfg.Pool.MaxRetries,
	})

	var history *pgstore.HistoryStore
	if pgConfigured(cfg) {
		pgClient, err := pgstore.New(ctx, pgstore.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("app: connect postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return nil, cleanup, fmt.Errorf("app: run postgres migrations: %w", err)
			}
		}
		history = pgstore.NewHistoryStore(pgClient.Pool())
	}

	notifier := notify.NewNotifier(buildSenders(cfg), cfg.Notify.Events, cfg.Notify.SpamWindow.Duration, log)

	registry := filter.NewRegistry()

	routingCfg, err := router.Load(cfg.Routing.ConfigPath, cfg.Routing.ExamplePath, registry)
	if err != nil {
		return nil, cleanup, fmt.Errorf("app: load routing config: %w", err)
	}

	rtr := router.New(routingCfg, registry, poolClient, st, notifier, buildSourceFactory(cfg, poolClient, log), log)

	var archiver domain.Archiver
	if history != nil && cfg.S3.Bucket != "" {
		archiver, err = buildArchiver(ctx, cfg, history)
		if err != nil {
			return nil, cleanup, fmt.Errorf("app: build archiver: %w", err)
		}
	}

	perfMonitor := perf.New(perf.Config{
		Source:   rtr,
		Store:    st,
		Notifier: notifier,
		History:  history,
		Archiver: archiver,
		Log:      log,
	})

	var hmacKey []byte
	if cfg.ControlBus.Enabled {
		hmacKey = router.DeriveControlBusKey(cfg.ControlBus.HMACSecret)
	}

	return &Dependencies{
		Store:    st,
		History:  history,
		Pool:     poolClient,
		Notifier: notifier,
		Router:   rtr,
		Perf:     perfMonitor,
		HMACKey:  hmacKey,
	}, cleanup, nil
}

// buildArchiver connects an S3-compatible client and returns the
// domain.Archiver that exports aged durable-history rows to it. Only called
// when both Postgres and S3 are configured.
func buildArchiver(ctx context.Context, cfg *config.Config, history *pgstore.HistoryStore) (domain.Archiver, error) {
	client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("connect s3: %w", err)
	}
	writer := s3blob.NewWriter(client)
	return s3blob.NewArchiver(writer, history), nil
}

func buildSenders(cfg *config.Config) []notify.Sender {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return senders
}

// buildSourceFactory returns the router.SourceFactory matching the
// configured monitor mode. The same factory is used for every
// route's source account; mixing poll and stream sources across routes
// in one deployment is not supported.
func buildSourceFactory(cfg *config.Config, poolClient *pool.Client, log *slog.Logger) router.SourceFactory {
	return func(account domain.Account) monitor.Source {
		if cfg.Monitor.Mode == "stream" {
			return monitor.NewStreamSource(account.ID, account.Region, cfg.Monitor.StreamSymbols, poolClient, log)
		}
		interval := time.Duration(cfg.Monitor.PollIntervalMs) * time.Millisecond
		return monitor.NewPollSource(account.ID, account.Region, interval, poolClient.GetPositions, log)
	}
}
