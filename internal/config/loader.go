package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAULTBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAULTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.Address, "VAULTBOT_WALLET_ADDRESS")
	setStr(&cfg.Wallet.RiskTier, "VAULTBOT_WALLET_RISK_TIER")

	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "VAULTBOT_SOLANA_RPC_URL")
	setInt(&cfg.Solana.PageLimit, "VAULTBOT_SOLANA_PAGE_LIMIT")
	setInt(&cfg.Solana.MaxRetries, "VAULTBOT_SOLANA_MAX_RETRIES")
	setDuration(&cfg.Solana.BaseBackoff, "VAULTBOT_SOLANA_BASE_BACKOFF")
	setDuration(&cfg.Solana.MaxBackoff, "VAULTBOT_SOLANA_MAX_BACKOFF")
	setDuration(&cfg.Solana.Jitter, "VAULTBOT_SOLANA_JITTER")
	setDuration(&cfg.Solana.CacheTTL, "VAULTBOT_SOLANA_CACHE_TTL")

	// ── Pricefeed ──
	setStr(&cfg.Pricefeed.BaseURL, "VAULTBOT_PRICEFEED_BASE_URL")
	setStr(&cfg.Pricefeed.WSURL, "VAULTBOT_PRICEFEED_WS_URL")
	setStr(&cfg.Pricefeed.APIKey, "VAULTBOT_PRICEFEED_API_KEY")
	setStringSlice(&cfg.Pricefeed.Assets, "VAULTBOT_PRICEFEED_ASSETS")

	// ── Advisor ──
	setStr(&cfg.Advisor.BaseURL, "VAULTBOT_ADVISOR_BASE_URL")
	setStr(&cfg.Advisor.APIKey, "VAULTBOT_ADVISOR_API_KEY")

	// ── Privacy ──
	setStr(&cfg.Privacy.BaseURL, "VAULTBOT_PRIVACY_BASE_URL")
	setStr(&cfg.Privacy.APIKey, "VAULTBOT_PRIVACY_API_KEY")

	// ── Swap ──
	setStr(&cfg.Swap.BaseURL, "VAULTBOT_SWAP_BASE_URL")
	setStr(&cfg.Swap.APIKey, "VAULTBOT_SWAP_API_KEY")

	// ── Lending ──
	setStr(&cfg.Lending.BaseURL, "VAULTBOT_LENDING_BASE_URL")
	setStr(&cfg.Lending.APIKey, "VAULTBOT_LENDING_API_KEY")

	// ── Rebalance ──
	setFloat64(&cfg.Rebalance.DeadbandUSD, "VAULTBOT_REBALANCE_DEADBAND_USD")
	setDuration(&cfg.Rebalance.LockTTL, "VAULTBOT_REBALANCE_LOCK_TTL")
	setDuration(&cfg.Rebalance.Interval, "VAULTBOT_REBALANCE_INTERVAL")
	setBool(&cfg.Rebalance.DryRun, "VAULTBOT_REBALANCE_DRY_RUN")
	setStr(&cfg.Rebalance.StableAssetID, "VAULTBOT_REBALANCE_STABLE_ASSET_ID")
	setStr(&cfg.Rebalance.GrowthAssetID, "VAULTBOT_REBALANCE_GROWTH_ASSET_ID")
	setStr(&cfg.Rebalance.DegenAssetID, "VAULTBOT_REBALANCE_DEGEN_ASSET_ID")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "VAULTBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "VAULTBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VAULTBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VAULTBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VAULTBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VAULTBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VAULTBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VAULTBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VAULTBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VAULTBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VAULTBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VAULTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULTBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULTBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VAULTBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VAULTBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VAULTBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VAULTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VAULTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "VAULTBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VAULTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VAULTBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VAULTBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VAULTBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VAULTBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VAULTBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VAULTBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VAULTBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "VAULTBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "VAULTBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VAULTBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VAULTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VAULTBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VAULTBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VAULTBOT_MODE")
	setStr(&cfg.LogLevel, "VAULTBOT_LOG_LEVEL")
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
