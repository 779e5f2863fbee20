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
// built-in defaults, applies POLYCOPY_* environment variable overrides, and
// returns the final Config. The caller should invoke Config.Validate after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYCOPY_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// Signer
	setStr(&cfg.Signer.MasterSecret, "POLYCOPY_SIGNER_MASTER_SECRET")
	setStr(&cfg.Signer.EncryptedSecretPath, "POLYCOPY_SIGNER_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Signer.SecretPassword, "POLYCOPY_SIGNER_SECRET_PASSWORD")

	// Venue
	setStr(&cfg.Venue.ClobHost, "POLYCOPY_VENUE_CLOB_HOST")
	setStr(&cfg.Venue.WsHost, "POLYCOPY_VENUE_WS_HOST")
	setStr(&cfg.Venue.ApiAddress, "POLYCOPY_VENUE_API_ADDRESS")
	setStr(&cfg.Venue.ApiKey, "POLYCOPY_VENUE_API_KEY")
	setStr(&cfg.Venue.ApiSecret, "POLYCOPY_VENUE_API_SECRET")
	setStr(&cfg.Venue.ApiPassphrase, "POLYCOPY_VENUE_API_PASSPHRASE")
	setFloat64(&cfg.Venue.MinOrderValue, "POLYCOPY_VENUE_MIN_ORDER_VALUE")

	// Chain
	setStr(&cfg.Chain.RPCURL, "POLYCOPY_CHAIN_RPC_URL")
	setInt(&cfg.Chain.ChainID, "POLYCOPY_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.ExchangeAddress, "POLYCOPY_CHAIN_EXCHANGE_ADDRESS")
	setStr(&cfg.Chain.WithdrawalModule, "POLYCOPY_CHAIN_WITHDRAWAL_MODULE")
	setStr(&cfg.Chain.TradeGuard, "POLYCOPY_CHAIN_TRADE_GUARD")
	setStr(&cfg.Chain.CollateralToken, "POLYCOPY_CHAIN_COLLATERAL_TOKEN")
	setDuration(&cfg.Chain.TxWait, "POLYCOPY_CHAIN_TX_WAIT")

	// Engine
	setDuration(&cfg.Engine.StaleAfter, "POLYCOPY_ENGINE_STALE_AFTER")
	setDuration(&cfg.Engine.LockTTL, "POLYCOPY_ENGINE_LOCK_TTL")
	setInt(&cfg.Engine.Parallelism, "POLYCOPY_ENGINE_PARALLELISM")
	setDuration(&cfg.Engine.ReconcileInterval, "POLYCOPY_ENGINE_RECONCILE_INTERVAL")

	// Postgres
	setStr(&cfg.Postgres.DSN, "POLYCOPY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYCOPY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYCOPY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYCOPY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYCOPY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYCOPY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYCOPY_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYCOPY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYCOPY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYCOPY_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "POLYCOPY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYCOPY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYCOPY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYCOPY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYCOPY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYCOPY_REDIS_TLS_ENABLED")

	// Archive
	setBool(&cfg.Archive.Enabled, "POLYCOPY_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "POLYCOPY_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "POLYCOPY_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "POLYCOPY_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "POLYCOPY_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "POLYCOPY_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "POLYCOPY_ARCHIVE_FORCE_PATH_STYLE")
	setInt(&cfg.Archive.RetentionDays, "POLYCOPY_ARCHIVE_RETENTION_DAYS")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "POLYCOPY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYCOPY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYCOPY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYCOPY_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.Mode, "POLYCOPY_MODE")
	setStr(&cfg.LogLevel, "POLYCOPY_LOG_LEVEL")
}

// --------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// --------------------------------------------------------------------------

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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
