// Package config defines the engine's configuration and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by POLYCOPY_* environment variables.
type Config struct {
	Signer   SignerConfig   `toml:"signer"`
	Venue    VenueConfig    `toml:"venue"`
	Chain    ChainConfig    `toml:"chain"`
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SignerConfig holds the delegated-signer master secret. Either the raw hex
// secret or an encrypted secret file plus its password must be provided.
type SignerConfig struct {
	MasterSecret        string `toml:"master_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// VenueConfig holds the order-book endpoints and API credentials.
type VenueConfig struct {
	ClobHost      string  `toml:"clob_host"`
	WsHost        string  `toml:"ws_host"`
	ApiAddress    string  `toml:"api_address"`
	ApiKey        string  `toml:"api_key"`
	ApiSecret     string  `toml:"api_secret"`
	ApiPassphrase string  `toml:"api_passphrase"`
	MinOrderValue float64 `toml:"min_order_value"`
	SizeIncrement float64 `toml:"size_increment"`
}

// ChainConfig holds the JSON-RPC endpoint and contract addresses.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int      `toml:"chain_id"`
	ExchangeAddress  string   `toml:"exchange_address"`
	WithdrawalModule string   `toml:"withdrawal_module"`
	TradeGuard       string   `toml:"trade_guard"`
	CollateralToken  string   `toml:"collateral_token"`
	TxWait           duration `toml:"tx_wait"`
}

// EngineConfig tunes the copy pipeline.
type EngineConfig struct {
	StaleAfter        duration `toml:"stale_after"`
	LockTTL           duration `toml:"lock_ttl"`
	Parallelism       int      `toml:"parallelism"`
	ReconcileInterval duration `toml:"reconcile_interval"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ArchiveConfig holds S3-compatible object storage parameters for trade
// record archival.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	RetentionDays  int      `toml:"retention_days"`
	Interval       duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials and the event
// allow-list.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML decoding of strings like "30s".
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

// Defaults returns the built-in configuration, targeting Polygon mainnet and
// the production venue endpoints.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			ClobHost:      "https://clob.polymarket.com",
			WsHost:        "wss://ws-live-data.polymarket.com",
			MinOrderValue: 1.0,
			SizeIncrement: 0.01,
		},
		Chain: ChainConfig{
			ChainID:         137,
			ExchangeAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
			CollateralToken: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
			TxWait:          duration{2 * time.Minute},
		},
		Engine: EngineConfig{
			StaleAfter:        duration{2 * time.Minute},
			LockTTL:           duration{30 * time.Second},
			Parallelism:       4,
			ReconcileInterval: duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polycopy",
			User:          "polycopy",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Region:        "us-east-1",
			RetentionDays: 90,
			Interval:      duration{time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_copied", "trade_failed", "setup_complete", "engine_error"},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":    true,
	"setup":  true,
	"verify": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration and returns a combined error describing
// every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, setup, verify)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Signer: one secret source must be configured.
	if c.Signer.MasterSecret == "" && c.Signer.EncryptedSecretPath == "" {
		errs = append(errs, "signer: either master_secret or encrypted_secret_path must be set")
	}
	if c.Signer.EncryptedSecretPath != "" && c.Signer.SecretPassword == "" {
		errs = append(errs, "signer: secret_password is required when encrypted_secret_path is set")
	}

	// Venue
	if c.Venue.ClobHost == "" {
		errs = append(errs, "venue: clob_host must not be empty")
	}
	vk := c.Venue.ApiKey != ""
	vs := c.Venue.ApiSecret != ""
	vp := c.Venue.ApiPassphrase != ""
	if (vk || vs || vp) && !(vk && vs && vp) {
		errs = append(errs, "venue: api_key, api_secret, and api_passphrase must all be set together")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.ExchangeAddress == "" {
		errs = append(errs, "chain: exchange_address must not be empty")
	}
	if c.Mode == "setup" || c.Mode == "verify" {
		if c.Chain.WithdrawalModule == "" {
			errs = append(errs, "chain: withdrawal_module is required for mode "+c.Mode)
		}
		if c.Chain.TradeGuard == "" {
			errs = append(errs, "chain: trade_guard is required for mode "+c.Mode)
		}
	}

	// Engine
	if c.Engine.Parallelism < 1 {
		errs = append(errs, "engine: parallelism must be >= 1")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
