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
// built-in defaults, applies WINNERBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known WINNERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.WsURL, "WINNERBOT_CHAIN_WS_URL")
	setStr(&cfg.Chain.HTTPURL, "WINNERBOT_CHAIN_HTTP_URL")
	setInt64(&cfg.Chain.ChainID, "WINNERBOT_CHAIN_ID")
	setDuration(&cfg.Chain.ReconnectDelay, "WINNERBOT_CHAIN_RECONNECT_DELAY")
	setDuration(&cfg.Chain.MaxReconnectDelay, "WINNERBOT_CHAIN_MAX_RECONNECT_DELAY")
	setInt(&cfg.Chain.MaxReconnects, "WINNERBOT_CHAIN_MAX_RECONNECTS")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WINNERBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WINNERBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WINNERBOT_WALLET_KEY_PASSWORD")

	// ── Target ──
	setStr(&cfg.Target.ContractAddress, "WINNERBOT_TARGET_CONTRACT_ADDRESS")
	setStr(&cfg.Target.FunctionSelector, "WINNERBOT_TARGET_FUNCTION_SELECTOR")
	setStr(&cfg.Target.OwnAddress, "WINNERBOT_TARGET_OWN_ADDRESS")

	// ── Bid ──
	setUint64(&cfg.Bid.FeeBumpPercent, "WINNERBOT_BID_FEE_BUMP_PERCENT")
	setUint64(&cfg.Bid.DefaultFeePerGasWei, "WINNERBOT_BID_DEFAULT_FEE_PER_GAS_WEI")
	setUint64(&cfg.Bid.GasLimit, "WINNERBOT_BID_GAS_LIMIT")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Active, "WINNERBOT_STRATEGY_ACTIVE")

	// ── Executor ──
	setInt(&cfg.Executor.QueueSize, "WINNERBOT_EXECUTOR_QUEUE_SIZE")
	setInt(&cfg.Executor.MaxInFlight, "WINNERBOT_EXECUTOR_MAX_IN_FLIGHT")
	setDuration(&cfg.Executor.SubmitTimeout, "WINNERBOT_EXECUTOR_SUBMIT_TIMEOUT")
	setDuration(&cfg.Executor.DedupTTL, "WINNERBOT_EXECUTOR_DEDUP_TTL")
	setInt(&cfg.Executor.RateLimit, "WINNERBOT_EXECUTOR_RATE_LIMIT")
	setDuration(&cfg.Executor.RateWindow, "WINNERBOT_EXECUTOR_RATE_WINDOW")
	setBool(&cfg.Executor.DryRun, "WINNERBOT_EXECUTOR_DRY_RUN")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WINNERBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WINNERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WINNERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WINNERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WINNERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WINNERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WINNERBOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "WINNERBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "WINNERBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WINNERBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WINNERBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WINNERBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WINNERBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WINNERBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WINNERBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WINNERBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WINNERBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WINNERBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WINNERBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WINNERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WINNERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "WINNERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WINNERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WINNERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WINNERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WINNERBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WINNERBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "WINNERBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "WINNERBOT_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.DeleteAfterArchive, "WINNERBOT_ARCHIVE_DELETE_AFTER_ARCHIVE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WINNERBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WINNERBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WINNERBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WINNERBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "WINNERBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WINNERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WINNERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WINNERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WINNERBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WINNERBOT_MODE")
	setStr(&cfg.LogLevel, "WINNERBOT_LOG_LEVEL")
	setStr(&cfg.LogFormat, "WINNERBOT_LOG_FORMAT")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
