// Package config defines the top-level configuration for the prediclaw
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICLAW_* environment variables.
type Config struct {
	Mode           string               `toml:"mode"`
	LogLevel       string               `toml:"log_level"`
	Storage        StorageConfig        `toml:"storage"`
	Postgres       PostgresConfig       `toml:"postgres"`
	Redis          RedisConfig          `toml:"redis"`
	S3             S3Config             `toml:"s3"`
	Server         ServerConfig         `toml:"server"`
	Lifecycle      LifecycleConfig      `toml:"lifecycle"`
	Webhook        WebhookConfig        `toml:"webhook"`
	Treasury       TreasuryConfig       `toml:"treasury"`
	PolicyDefaults PolicyDefaultsConfig `toml:"policy_defaults"`
	Security       SecurityConfig       `toml:"security"`
	Archive        ArchiveConfig        `toml:"archive"`
	Notify         NotifyConfig         `toml:"notify"`
}

// StorageConfig selects the Store implementation.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When enabled, Redis backs
// the rate windows, the locks and the live event bus.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	// AdminToken guards operator routes (deposits, treasury).
	// Empty leaves them open.
	AdminToken string `toml:"admin_token"`
	// RegistrationLimit caps bot registrations per client IP per hour.
	// Zero disables the limit.
	RegistrationLimit int `toml:"registration_limit"`
}

// LifecycleConfig tunes the market lifecycle scheduler.
type LifecycleConfig struct {
	PollInterval duration `toml:"poll_interval"`
	AutoResolve  bool     `toml:"auto_resolve"`
}

// WebhookConfig tunes the outbox delivery worker.
type WebhookConfig struct {
	PollInterval  duration `toml:"poll_interval"`
	BaseBackoff   duration `toml:"base_backoff"`
	MaxAttempts   int      `toml:"max_attempts"`
	Timeout       duration `toml:"timeout"`
	BatchSize     int      `toml:"batch_size"`
	Concurrency   int      `toml:"concurrency"`
	RatePerSecond float64  `toml:"rate_per_second"`
	Burst         int      `toml:"burst"`
}

// TreasuryConfig routes settlement remainders.
type TreasuryConfig struct {
	SendUnpaidToTreasury      bool               `toml:"send_unpaid_to_treasury"`
	LiquidityBotAllocationPct float64            `toml:"liquidity_bot_allocation_pct"`
	LiquidityBotWeights       map[string]float64 `toml:"liquidity_bot_weights"`
}

// Domain converts the section into the stored treasury configuration.
func (t TreasuryConfig) Domain() domain.TreasuryConfig {
	weights := make(map[string]float64, len(t.LiquidityBotWeights))
	for id, w := range t.LiquidityBotWeights {
		weights[id] = w
	}
	return domain.TreasuryConfig{
		SendUnpaidToTreasury:      t.SendUnpaidToTreasury,
		LiquidityBotAllocationPct: t.LiquidityBotAllocationPct,
		LiquidityBotWeights:       weights,
	}
}

// PolicyDefaultsConfig is the policy given to newly registered bots.
type PolicyDefaultsConfig struct {
	MaxRequestsPerMinute        int     `toml:"max_requests_per_minute"`
	MaxActiveMarkets            int     `toml:"max_active_markets"`
	MaxTradeBDC                 float64 `toml:"max_trade_bdc"`
	MaxMarketsPerDay            int     `toml:"max_markets_per_day"`
	MaxResolutionsPerDay        int     `toml:"max_resolutions_per_day"`
	MinBalanceToCreateMarket    float64 `toml:"min_balance_to_create_market"`
	MinReputationToCreateMarket float64 `toml:"min_reputation_to_create_market"`
	MinBalanceToResolve         float64 `toml:"min_balance_to_resolve"`
	MinReputationToResolve      float64 `toml:"min_reputation_to_resolve"`
	MarketCreationStakeBDC      float64 `toml:"market_creation_stake_bdc"`
	ResolutionStakeBDC          float64 `toml:"resolution_stake_bdc"`
	AlertBalanceThresholdBDC    float64 `toml:"alert_balance_threshold_bdc"`
}

// BotPolicy converts the defaults into a policy template without a bot id.
func (p PolicyDefaultsConfig) BotPolicy() domain.BotPolicy {
	return domain.BotPolicy{
		MaxRequestsPerMinute:        p.MaxRequestsPerMinute,
		MaxActiveMarkets:            p.MaxActiveMarkets,
		MaxTradeBDC:                 p.MaxTradeBDC,
		MaxMarketsPerDay:            p.MaxMarketsPerDay,
		MaxResolutionsPerDay:        p.MaxResolutionsPerDay,
		MinBalanceToCreateMarket:    p.MinBalanceToCreateMarket,
		MinReputationToCreateMarket: p.MinReputationToCreateMarket,
		MinBalanceToResolve:         p.MinBalanceToResolve,
		MinReputationToResolve:      p.MinReputationToResolve,
		MarketCreationStakeBDC:      p.MarketCreationStakeBDC,
		ResolutionStakeBDC:          p.ResolutionStakeBDC,
		AlertBalanceThresholdBDC:    p.AlertBalanceThresholdBDC,
	}
}

// SecurityConfig holds the key material used to seal bot API keys at rest.
type SecurityConfig struct {
	APIKeyPassphrase string `toml:"api_key_passphrase"`
	APIKeySalt       string `toml:"api_key_salt"`
}

// ArchiveConfig controls copying of events to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// Alerts lists the alert kinds forwarded to operators. Empty forwards all.
	Alerts []string `toml:"alerts"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Storage:  StorageConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "prediclaw",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "prediclaw",
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "prediclaw-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000"},
			ReadTimeout:       duration{15 * time.Second},
			WriteTimeout:      duration{30 * time.Second},
			ShutdownTimeout:   duration{10 * time.Second},
			RegistrationLimit: 20,
		},
		Lifecycle: LifecycleConfig{
			PollInterval: duration{30 * time.Second},
			AutoResolve:  false,
		},
		Webhook: WebhookConfig{
			PollInterval:  duration{2 * time.Second},
			BaseBackoff:   duration{5 * time.Second},
			MaxAttempts:   5,
			Timeout:       duration{10 * time.Second},
			BatchSize:     100,
			Concurrency:   8,
			RatePerSecond: 50,
			Burst:         8,
		},
		Treasury: TreasuryConfig{
			SendUnpaidToTreasury: true,
			LiquidityBotWeights:  map[string]float64{},
		},
		PolicyDefaults: PolicyDefaultsConfig{
			MaxRequestsPerMinute: 60,
			MaxActiveMarkets:     5,
			MaxTradeBDC:          500,
		},
		Archive: ArchiveConfig{
			Interval:      duration{time.Hour},
			RetentionDays: 7,
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	backend := strings.ToLower(c.Storage.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}
	if backend == "memory" && c.Mode == "worker" {
		errs = append(errs, "storage: worker mode needs a shared backend, memory is process-local")
	}

	if backend == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Security.APIKeyPassphrase == "" || c.Security.APIKeySalt == "" {
			errs = append(errs, "security: api_key_passphrase and api_key_salt are required with the postgres backend")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Webhook
	if c.Webhook.MaxAttempts < 1 {
		errs = append(errs, "webhook: max_attempts must be >= 1")
	}
	if c.Webhook.BaseBackoff.Duration <= 0 {
		errs = append(errs, "webhook: base_backoff must be > 0")
	}
	if c.Webhook.Concurrency < 1 {
		errs = append(errs, "webhook: concurrency must be >= 1")
	}
	if c.Webhook.RatePerSecond <= 0 {
		errs = append(errs, "webhook: rate_per_second must be > 0")
	}

	// Treasury
	if p := c.Treasury.LiquidityBotAllocationPct; p < 0 || p > 1 {
		errs = append(errs, fmt.Sprintf("treasury: liquidity_bot_allocation_pct must be within [0, 1], got %v", p))
	}
	for id, w := range c.Treasury.LiquidityBotWeights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("treasury: weight for %s must be >= 0", id))
		}
	}

	// Policy defaults
	if c.PolicyDefaults.MaxRequestsPerMinute < 1 {
		errs = append(errs, "policy_defaults: max_requests_per_minute must be >= 1")
	}
	if c.PolicyDefaults.MaxTradeBDC < 0 || c.PolicyDefaults.MaxActiveMarkets < 0 {
		errs = append(errs, "policy_defaults: limits must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
