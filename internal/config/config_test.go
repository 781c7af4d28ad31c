package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 60, cfg.PolicyDefaults.BotPolicy().MaxRequestsPerMinute)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prediclaw.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"
log_level = "debug"

[lifecycle]
poll_interval = "5s"
auto_resolve = true

[webhook]
base_backoff = "1s"
max_attempts = 3

[treasury]
send_unpaid_to_treasury = false
liquidity_bot_allocation_pct = 0.25
liquidity_bot_weights = { "bot-a" = 1.0, "bot-b" = 3.0 }

[policy_defaults]
max_requests_per_minute = 120
max_trade_bdc = 50.0
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.Lifecycle.PollInterval.Duration)
	assert.True(t, cfg.Lifecycle.AutoResolve)
	assert.Equal(t, time.Second, cfg.Webhook.BaseBackoff.Duration)
	assert.Equal(t, 3, cfg.Webhook.MaxAttempts)
	// Untouched keys keep their defaults.
	assert.Equal(t, 8, cfg.Webhook.Concurrency)

	tc := cfg.Treasury.Domain()
	assert.False(t, tc.SendUnpaidToTreasury)
	assert.Equal(t, 0.25, tc.LiquidityBotAllocationPct)
	assert.Equal(t, 3.0, tc.LiquidityBotWeights["bot-b"])

	p := cfg.PolicyDefaults.BotPolicy()
	assert.Equal(t, 120, p.MaxRequestsPerMinute)
	assert.Equal(t, 50.0, p.MaxTradeBDC)
	assert.Equal(t, 5, p.MaxActiveMarkets)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PREDICLAW_MODE", "worker")
	t.Setenv("PREDICLAW_STORAGE_BACKEND", "postgres")
	t.Setenv("PREDICLAW_POSTGRES_DSN", "postgres://u:p@db:5432/prediclaw")
	t.Setenv("PREDICLAW_REDIS_ENABLED", "true")
	t.Setenv("PREDICLAW_WEBHOOK_BASE_BACKOFF", "250ms")
	t.Setenv("PREDICLAW_WEBHOOK_RATE_PER_SECOND", "12.5")
	t.Setenv("PREDICLAW_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("PREDICLAW_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://u:p@db:5432/prediclaw", cfg.Postgres.DSN)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Webhook.BaseBackoff.Duration)
	assert.Equal(t, 12.5, cfg.Webhook.RatePerSecond)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// Unparseable values leave the default in place.
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Storage.Backend = "postgres"
	cfg.Archive.Enabled = true
	cfg.Treasury.LiquidityBotAllocationPct = 1.5
	cfg.Webhook.MaxAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		"security: api_key_passphrase and api_key_salt are required",
		"archive: requires s3.enabled",
		"liquidity_bot_allocation_pct must be within [0, 1]",
		"webhook: max_attempts must be >= 1",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateWorkerNeedsSharedStore(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "worker"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker mode needs a shared backend")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Security.APIKeyPassphrase = "pass"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"
	cfg.Treasury.LiquidityBotWeights = map[string]float64{"bot-a": 1}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Security.APIKeyPassphrase)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Security.APIKeySalt)

	out.Treasury.LiquidityBotWeights["bot-a"] = 9
	assert.Equal(t, 1.0, cfg.Treasury.LiquidityBotWeights["bot-a"])
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
