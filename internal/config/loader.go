package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDICLAW_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICLAW_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Secrets
// are injected this way at deploy time.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "PREDICLAW_MODE")
	setStr(&cfg.LogLevel, "PREDICLAW_LOG_LEVEL")
	setStr(&cfg.Storage.Backend, "PREDICLAW_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.DSN, "PREDICLAW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PREDICLAW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICLAW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICLAW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICLAW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICLAW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICLAW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICLAW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDICLAW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICLAW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICLAW_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICLAW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICLAW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICLAW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICLAW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICLAW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICLAW_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PREDICLAW_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "PREDICLAW_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICLAW_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICLAW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICLAW_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICLAW_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PREDICLAW_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PREDICLAW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICLAW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICLAW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICLAW_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PREDICLAW_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICLAW_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminToken, "PREDICLAW_SERVER_ADMIN_TOKEN")
	setInt(&cfg.Server.RegistrationLimit, "PREDICLAW_SERVER_REGISTRATION_LIMIT")

	// ── Lifecycle ──
	setDuration(&cfg.Lifecycle.PollInterval, "PREDICLAW_LIFECYCLE_POLL_INTERVAL")
	setBool(&cfg.Lifecycle.AutoResolve, "PREDICLAW_LIFECYCLE_AUTO_RESOLVE")

	// ── Webhook ──
	setDuration(&cfg.Webhook.PollInterval, "PREDICLAW_WEBHOOK_POLL_INTERVAL")
	setDuration(&cfg.Webhook.BaseBackoff, "PREDICLAW_WEBHOOK_BASE_BACKOFF")
	setInt(&cfg.Webhook.MaxAttempts, "PREDICLAW_WEBHOOK_MAX_ATTEMPTS")
	setDuration(&cfg.Webhook.Timeout, "PREDICLAW_WEBHOOK_TIMEOUT")
	setInt(&cfg.Webhook.Concurrency, "PREDICLAW_WEBHOOK_CONCURRENCY")
	setFloat64(&cfg.Webhook.RatePerSecond, "PREDICLAW_WEBHOOK_RATE_PER_SECOND")

	// ── Treasury ──
	setBool(&cfg.Treasury.SendUnpaidToTreasury, "PREDICLAW_TREASURY_SEND_UNPAID_TO_TREASURY")
	setFloat64(&cfg.Treasury.LiquidityBotAllocationPct, "PREDICLAW_TREASURY_LIQUIDITY_BOT_ALLOCATION_PCT")

	// ── Security ──
	setStr(&cfg.Security.APIKeyPassphrase, "PREDICLAW_SECURITY_API_KEY_PASSPHRASE")
	setStr(&cfg.Security.APIKeySalt, "PREDICLAW_SECURITY_API_KEY_SALT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PREDICLAW_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "PREDICLAW_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "PREDICLAW_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDICLAW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICLAW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICLAW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Alerts, "PREDICLAW_NOTIFY_ALERTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
