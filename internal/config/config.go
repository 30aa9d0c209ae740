// Package config loads and validates the wallet engine configuration.
//
// Configuration comes from the environment (envdecode), with an optional YAML
// overlay for deployments that prefer files. Asset and application IDs are
// required; everything else has conservative defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Node      NodeConfig      `yaml:"node"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Assets    AssetConfig     `yaml:"assets"`
	Apps      AppConfig       `yaml:"apps"`
	Sponsor   SponsorConfig   `yaml:"sponsor"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Session   SessionConfig   `yaml:"session"`
	OnRamp    OnRampConfig    `yaml:"onramp"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr string `env:"HTTP_ADDR,default=:8080" yaml:"addr"`
	// RateLimit throttles requests per client IP; zero disables it.
	RateLimit float64 `env:"HTTP_RATE_LIMIT,default=0" yaml:"rate_limit"`
	RateBurst int     `env:"HTTP_RATE_BURST,default=20" yaml:"rate_burst"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info" yaml:"level"`
	Format string `env:"LOG_FORMAT,default=json" yaml:"format"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	URL          string `env:"DATABASE_URL" yaml:"url"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS,default=20" yaml:"max_open_conns"`
	MaxIdleConns int    `env:"DATABASE_MAX_IDLE_CONNS,default=5" yaml:"max_idle_conns"`
}

// RedisConfig configures the shared KV cache.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379" yaml:"addr"`
	Password string `env:"REDIS_PASSWORD,default=" yaml:"password"`
	DB       int    `env:"REDIS_DB,default=0" yaml:"db"`
}

// NodeConfig configures the algod endpoint.
type NodeConfig struct {
	URL         string `env:"NODE_URL" yaml:"url"`
	AuthHeader  string `env:"NODE_AUTH_HEADER,default=" yaml:"auth_header"`
	AuthToken   string `env:"NODE_AUTH_TOKEN,default=" yaml:"auth_token"`
	FallbackURL string `env:"NODE_FALLBACK_URL,default=" yaml:"fallback_url"`
}

// IndexerConfig configures the indexer endpoint.
type IndexerConfig struct {
	URL         string `env:"INDEXER_URL" yaml:"url"`
	AuthHeader  string `env:"INDEXER_AUTH_HEADER,default=" yaml:"auth_header"`
	AuthToken   string `env:"INDEXER_AUTH_TOKEN,default=" yaml:"auth_token"`
	FallbackURL string `env:"INDEXER_FALLBACK_URL,default=" yaml:"fallback_url"`
}

// AssetConfig holds the tracked asset IDs.
type AssetConfig struct {
	USDCAssetID   uint64 `env:"USDC_ASSET_ID" yaml:"usdc_asset_id"`
	CUSDAssetID   uint64 `env:"CUSD_ASSET_ID" yaml:"cusd_asset_id"`
	ConfioAssetID uint64 `env:"CONFIO_ASSET_ID" yaml:"confio_asset_id"`
}

// AppConfig holds the on-chain application IDs.
type AppConfig struct {
	CUSDAppID    uint64 `env:"CUSD_APP_ID" yaml:"cusd_app_id"`
	InviteAppID  uint64 `env:"INVITE_APP_ID" yaml:"invite_app_id"`
	PresaleAppID uint64 `env:"PRESALE_APP_ID,default=0" yaml:"presale_app_id"`
}

// SponsorConfig configures the fee sponsor.
type SponsorConfig struct {
	Address string `env:"SPONSOR_ADDRESS" yaml:"address"`
	// KeySource is either "mnemonic:<25 words>" or "kms:<url>".
	KeySource string `env:"SPONSOR_KEY_SOURCE" yaml:"key_source"`
	// MinBalance is the operating floor in microalgos (default 0.1 ALGO).
	MinBalance uint64 `env:"SPONSOR_MIN_BALANCE,default=100000" yaml:"min_balance"`
	// WarnThreshold triggers warnings in microalgos (default 0.5 ALGO).
	WarnThreshold uint64 `env:"SPONSOR_WARN_THRESHOLD,default=500000" yaml:"warn_threshold"`
	// AdminAddress signs invite claims; defaults to the sponsor address.
	AdminAddress string `env:"ADMIN_ADDRESS,default=" yaml:"admin_address"`
}

// ScannerConfig configures the inbound deposit scanner.
type ScannerConfig struct {
	Interval       time.Duration `env:"SCAN_INTERVAL_SEC,default=30s" yaml:"interval"`
	LookbackRounds uint64        `env:"SCAN_LOOKBACK_ROUNDS,default=1000" yaml:"lookback_rounds"`
	PageLimit      uint64        `env:"SCAN_PAGE_LIMIT,default=1000" yaml:"page_limit"`
	// PagesPerSecond paces indexer reads; zero disables pacing.
	PagesPerSecond float64 `env:"SCAN_PAGES_PER_SECOND,default=5" yaml:"pages_per_second"`
}

// ReconcileConfig configures the balance reconciler.
type ReconcileConfig struct {
	StaleRefreshBatch int           `env:"STALE_REFRESH_BATCH,default=100" yaml:"stale_refresh_batch"`
	RateLimitDelay    time.Duration `env:"RATE_LIMIT_DELAY_MS,default=200ms" yaml:"rate_limit_delay"`
	FullInterval      time.Duration `env:"RECONCILE_FULL_INTERVAL,default=1h" yaml:"full_interval"`
}

// SessionConfig configures the websocket session channel.
type SessionConfig struct {
	JWTSecret     string        `env:"SESSION_JWT_SECRET" yaml:"jwt_secret"`
	Keepalive     time.Duration `env:"SESSION_KEEPALIVE,default=25s" yaml:"keepalive"`
	IdleTimeout   time.Duration `env:"SESSION_IDLE_TIMEOUT,default=60s" yaml:"idle_timeout"`
	PreparedTTL   time.Duration `env:"SESSION_PREPARED_TTL,default=24h" yaml:"prepared_ttl"`
	ConfirmRounds uint64        `env:"SESSION_CONFIRM_ROUNDS,default=10" yaml:"confirm_rounds"`
}

// OnRampConfig configures the fiat on-ramp provider poller.
type OnRampConfig struct {
	BaseURL      string        `env:"ONRAMP_BASE_URL,default=" yaml:"base_url"`
	APIKey       string        `env:"ONRAMP_API_KEY,default=" yaml:"api_key"`
	PollInterval time.Duration `env:"ONRAMP_POLL_INTERVAL,default=60s" yaml:"poll_interval"`
	OrderMaxAge  time.Duration `env:"ONRAMP_ORDER_MAX_AGE,default=24h" yaml:"order_max_age"`
}

// Load reads configuration from the environment, applying the YAML overlay at
// path when it is non-empty and the file exists.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config overlay %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config overlay %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	if c.Node.URL == "" {
		return fmt.Errorf("NODE_URL is required")
	}
	if c.Indexer.URL == "" {
		return fmt.Errorf("INDEXER_URL is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Assets.USDCAssetID == 0 || c.Assets.CUSDAssetID == 0 || c.Assets.ConfioAssetID == 0 {
		return fmt.Errorf("USDC_ASSET_ID, CUSD_ASSET_ID and CONFIO_ASSET_ID are required")
	}
	if c.Apps.CUSDAppID == 0 || c.Apps.InviteAppID == 0 {
		return fmt.Errorf("CUSD_APP_ID and INVITE_APP_ID are required")
	}
	if c.Sponsor.Address == "" {
		return fmt.Errorf("SPONSOR_ADDRESS is required")
	}
	if c.Sponsor.KeySource == "" {
		return fmt.Errorf("SPONSOR_KEY_SOURCE is required")
	}
	if c.Session.JWTSecret == "" {
		return fmt.Errorf("SESSION_JWT_SECRET is required")
	}
	return nil
}

// TrackedAssetIDs returns the three tracked asset IDs in scan order.
func (c *Config) TrackedAssetIDs() []uint64 {
	return []uint64{c.Assets.USDCAssetID, c.Assets.CUSDAssetID, c.Assets.ConfioAssetID}
}
