package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	s3blob "github.com/alanyoungcy/prediclaw/internal/blob/s3"
	"github.com/alanyoungcy/prediclaw/internal/cache/redis"
	"github.com/alanyoungcy/prediclaw/internal/config"
	"github.com/alanyoungcy/prediclaw/internal/crypto"
	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/keylock"
	"github.com/alanyoungcy/prediclaw/internal/metrics"
	"github.com/alanyoungcy/prediclaw/internal/notify"
	"github.com/alanyoungcy/prediclaw/internal/server/handler"
	"github.com/alanyoungcy/prediclaw/internal/store/memory"
	"github.com/alanyoungcy/prediclaw/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Clock domain.Clock
	Store domain.Store

	// Coordination: Redis when enabled, in-process otherwise.
	Counter domain.WindowCounter
	Locks   domain.LockManager
	Bus     domain.SignalBus

	// Archiver is nil unless S3 is enabled.
	Archiver domain.Archiver

	Metrics  *metrics.Metrics
	Notifier *notify.Notifier

	// HealthChecks ping each external dependency for GET /api/health.
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

	deps := &Dependencies{
		Clock:        domain.SystemClock{},
		Metrics:      metrics.New(),
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	// --- Store ---
	switch cfg.Storage.Backend {
	case "postgres":
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

		box, err := crypto.NewSecretBox(cfg.Security.APIKeyPassphrase, cfg.Security.APIKeySalt)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: api key secret box: %w", err)
		}
		store, err := postgres.NewStore(pgClient, box, deps.Clock)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres store: %w", err)
		}
		deps.Store = store
		deps.HealthChecks["postgres"] = func(ctx context.Context) error {
			return pgClient.Pool().Ping(ctx)
		}
	default:
		logger.WarnContext(ctx, "wire: using in-memory store, state is lost on restart")
		deps.Store = memory.New(deps.Clock)
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
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Counter = redis.NewWindowCounter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient).WithTTL(cfg.Redis.LockTTL.Duration)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.Counter = memory.NewWindowCounter()
		deps.Locks = keylock.New()
		deps.Bus = memory.NewSignalBus()
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Store)
		deps.HealthChecks["s3"] = s3Client.Health
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
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Alerts, logger)
	}

	return deps, cleanup, nil
}

// webhookClient is the HTTP client used for webhook delivery. Redirects are
// not followed so a receiver cannot bounce a signed payload elsewhere.
func webhookClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
