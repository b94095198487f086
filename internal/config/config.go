// Package config defines the top-level configuration for vaultbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by VAULTBOT_* environment
// variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Solana    SolanaConfig    `toml:"solana"`
	Pricefeed PricefeedConfig `toml:"pricefeed"`
	Advisor   AdvisorConfig   `toml:"advisor"`
	Privacy   PrivacyConfig   `toml:"privacy"`
	Swap      SwapConfig      `toml:"swap"`
	Lending   LendingConfig   `toml:"lending"`
	Rebalance RebalanceConfig `toml:"rebalance"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig identifies the treasury wallet being managed.
type WalletConfig struct {
	Address  string `toml:"address"`
	RiskTier string `toml:"risk_tier"`
}

// SolanaConfig holds ledger RPC parameters and the reader's retry policy.
type SolanaConfig struct {
	RPCURL      string   `toml:"rpc_url"`
	PageLimit   int      `toml:"page_limit"`
	MaxRetries  int      `toml:"max_retries"`
	BaseBackoff duration `toml:"base_backoff"`
	MaxBackoff  duration `toml:"max_backoff"`
	Jitter      duration `toml:"jitter"`
	CacheTTL    duration `toml:"cache_ttl"`
}

// PricefeedConfig holds the price API endpoints and the asset IDs the
// websocket feed keeps warm.
type PricefeedConfig struct {
	BaseURL string   `toml:"base_url"`
	WSURL   string   `toml:"ws_url"`
	APIKey  string   `toml:"api_key"`
	Assets  []string `toml:"assets"`
}

// AdvisorConfig holds the AI strategy advisor endpoint.
type AdvisorConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// PrivacyConfig holds the privacy-balance service endpoint.
type PrivacyConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// SwapConfig holds the swap aggregator endpoint.
type SwapConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// LendingConfig holds the lending venue endpoint backing the yield vault.
type LendingConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// RebalanceConfig holds the rebalancing engine parameters.
type RebalanceConfig struct {
	// DeadbandUSD suppresses transfers whose absolute delta is below this
	// threshold.
	DeadbandUSD float64 `toml:"deadband_usd"`
	// LockTTL bounds how long a wallet's rebalance lock may be held.
	LockTTL duration `toml:"lock_ttl"`
	// Interval between scheduled runs in full mode. Zero disables the
	// scheduler.
	Interval duration `toml:"interval"`
	DryRun   bool     `toml:"dry_run"`

	StableAssetID string `toml:"stable_asset_id"`
	GrowthAssetID string `toml:"growth_asset_id"`
	DegenAssetID  string `toml:"degen_asset_id"`
}

// PostgresConfig holds run-history database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for run-report
// archiving.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			RiskTier: "balanced",
		},
		Solana: SolanaConfig{
			RPCURL:      "https://api.mainnet-beta.solana.com",
			PageLimit:   100,
			MaxRetries:  4,
			BaseBackoff: duration{500 * time.Millisecond},
			MaxBackoff:  duration{8 * time.Second},
			Jitter:      duration{250 * time.Millisecond},
			CacheTTL:    duration{time.Minute},
		},
		Pricefeed: PricefeedConfig{
			BaseURL: "https://price.jup.ag/v6",
		},
		Rebalance: RebalanceConfig{
			DeadbandUSD:   1.0,
			LockTTL:       duration{2 * time.Minute},
			StableAssetID: "USDC",
			GrowthAssetID: "SOL",
			DegenAssetID:  "WIF",
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "vaultbot",
			User:          "vaultbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vaultbot-reports",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"run.partial", "run.failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"rebalance": true,
	"serve":     true,
	"monitor":   true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validRiskTiers enumerates the accepted values for WalletConfig.RiskTier.
var validRiskTiers = map[string]bool{
	"conservative": true,
	"balanced":     true,
	"aggressive":   true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: rebalance, serve, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is required for any mode that touches the ledger.
	if c.Wallet.Address == "" && c.Mode != "serve" {
		errs = append(errs, "wallet: address must be set for mode "+c.Mode)
	}
	if c.Wallet.RiskTier != "" && !validRiskTiers[strings.ToLower(c.Wallet.RiskTier)] {
		errs = append(errs, fmt.Sprintf("wallet: unknown risk_tier %q (valid: conservative, balanced, aggressive)", c.Wallet.RiskTier))
	}

	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if c.Solana.PageLimit <= 0 {
		errs = append(errs, "solana: page_limit must be > 0")
	}
	if c.Solana.MaxRetries < 0 {
		errs = append(errs, "solana: max_retries must be >= 0")
	}

	if c.Pricefeed.BaseURL == "" {
		errs = append(errs, "pricefeed: base_url must not be empty")
	}
	if c.Advisor.BaseURL == "" {
		errs = append(errs, "advisor: base_url must not be empty")
	}
	if c.Privacy.BaseURL == "" {
		errs = append(errs, "privacy: base_url must not be empty")
	}

	if c.Rebalance.DeadbandUSD < 0 {
		errs = append(errs, "rebalance: deadband_usd must be >= 0")
	}
	if c.Rebalance.LockTTL.Duration <= 0 {
		errs = append(errs, "rebalance: lock_ttl must be > 0")
	}
	if c.Rebalance.StableAssetID == "" {
		errs = append(errs, "rebalance: stable_asset_id must not be empty")
	}

	if c.Postgres.Enabled {
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
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
