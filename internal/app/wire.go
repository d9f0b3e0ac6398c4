package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/paperdesk/internal/blob/s3"
	"github.com/alanyoungcy/paperdesk/internal/cache/redis"
	"github.com/alanyoungcy/paperdesk/internal/config"
	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/marketdata"
	"github.com/alanyoungcy/paperdesk/internal/notify"
	"github.com/alanyoungcy/paperdesk/internal/server/handler"
	"github.com/alanyoungcy/paperdesk/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Interface fields
// stay nil when the backing service is disabled.
type Dependencies struct {
	// Stores
	OrderStore    domain.OrderStore
	PositionStore domain.PositionStore
	AccountStore  domain.AccountStore
	AuditStore    domain.AuditStore

	// Caches
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probes every enabled backing service.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: map[string]handler.HealthCheck{}}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AccountStore = postgres.NewAccountStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		if cfg.MarketData.CacheBackend == "redis" {
			deps.QuoteCache = redis.NewQuoteCache(redisClient)
		}
		if cfg.MarketData.LimiterBackend == "redis" {
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
		}
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}
	if deps.QuoteCache == nil {
		deps.QuoteCache = marketdata.NewMemoryCache()
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = marketdata.NewMemoryLimiter()
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.HealthChecks["s3"] = s3Client.Health
		// The archiver moves rows out of Postgres, so it needs both.
		if deps.PositionStore != nil && deps.OrderStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.BlobReader,
				deps.PositionStore,
				deps.OrderStore,
				deps.AuditStore,
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.Info("dependencies wired",
		slog.Bool("postgres", cfg.Postgres.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
		slog.Int("notify_senders", len(senders)),
	)
	return deps, cleanup, nil
}
