// Package config defines the top-level configuration for winnerbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WINNERBOT_* environment variables.
type Config struct {
	Chain     ChainConfig    `toml:"chain"`
	Wallet    WalletConfig   `toml:"wallet"`
	Target    TargetConfig   `toml:"target"`
	Bid       BidConfig      `toml:"bid"`
	Strategy  StrategyConfig `toml:"strategy"`
	Executor  ExecutorConfig `toml:"executor"`
	Redis     RedisConfig    `toml:"redis"`
	Postgres  PostgresConfig `toml:"postgres"`
	S3        S3Config       `toml:"s3"`
	Archive   ArchiveConfig  `toml:"archive"`
	Server    ServerConfig   `toml:"server"`
	Notify    NotifyConfig   `toml:"notify"`
	Mode      string         `toml:"mode"`
	LogLevel  string         `toml:"log_level"`
	LogFormat string         `toml:"log_format"`
}

// ChainConfig holds node endpoints and chain parameters.
type ChainConfig struct {
	WsURL             string   `toml:"ws_url"`
	HTTPURL           string   `toml:"http_url"`
	ChainID           int64    `toml:"chain_id"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	MaxReconnectDelay duration `toml:"max_reconnect_delay"` // backoff cap
	MaxReconnects     int      `toml:"max_reconnects"`      // 0 retries forever
	SubscribeBuffer   int      `toml:"subscribe_buffer"`
}

// WalletConfig holds the signing credential. Only the submitter reads it.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// TargetConfig names the contract call to race.
type TargetConfig struct {
	ContractAddress  string `toml:"contract_address"`
	FunctionSelector string `toml:"function_selector"`
	OwnAddress       string `toml:"own_address"`
}

// BidConfig holds the fee policy of competing transactions.
type BidConfig struct {
	FeeBumpPercent      uint64 `toml:"fee_bump_percent"`
	DefaultFeePerGasWei uint64 `toml:"default_fee_per_gas_wei"`
	GasLimit            uint64 `toml:"gas_limit"`
}

// StrategyConfig selects the strategies the engine runs, in order.
type StrategyConfig struct {
	Active []string `toml:"active"`
}

// ExecutorConfig holds submission dispatch parameters.
type ExecutorConfig struct {
	QueueSize       int      `toml:"queue_size"`
	MaxInFlight     int      `toml:"max_in_flight"`
	SubmitTimeout   duration `toml:"submit_timeout"`
	DedupTTL        duration `toml:"dedup_ttl"`
	DedupMaxEntries int      `toml:"dedup_max_entries"`
	RateLimit       int      `toml:"rate_limit"` // 0 disables
	RateWindow      duration `toml:"rate_window"`
	DryRun          bool     `toml:"dry_run"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// S3Config holds S3-compatible object storage parameters.
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

// ArchiveConfig controls moving old submission records to S3.
type ArchiveConfig struct {
	Enabled            bool     `toml:"enabled"`
	Interval           duration `toml:"interval"`
	RetentionDays      int      `toml:"retention_days"`
	DeleteAfterArchive bool     `toml:"delete_after_archive"`
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit caps requests per client per second. Needs redis; 0 disables.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the values of a local anvil/hardhat
// node and the reference setWinner() target.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			WsURL:             "ws://127.0.0.1:8545",
			HTTPURL:           "http://127.0.0.1:8545",
			ChainID:           31337,
			ReconnectDelay:    duration{2 * time.Second},
			MaxReconnectDelay: duration{30 * time.Second},
			SubscribeBuffer:   256,
		},
		Target: TargetConfig{
			FunctionSelector: "0xed05084e",
		},
		Bid: BidConfig{
			FeeBumpPercent:      120,
			DefaultFeePerGasWei: 20_000_000_000,
			GasLimit:            100_000,
		},
		Strategy: StrategyConfig{
			Active: []string{"winner_snipe"},
		},
		Executor: ExecutorConfig{
			QueueSize:       64,
			MaxInFlight:     16,
			SubmitTimeout:   duration{10 * time.Second},
			DedupTTL:        duration{10 * time.Minute},
			DedupMaxEntries: 10_000,
			RateLimit:       0,
			RateWindow:      duration{time.Second},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "winnerbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "winnerbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"frontrun_submitted", "frontrun_failed", "error"},
		},
		Mode:      "snipe",
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"snipe":  true,
	"watch":  true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// NeedsChain reports whether the mode watches the pending pool.
func (c *Config) NeedsChain() bool {
	m := strings.ToLower(c.Mode)
	return m == "snipe" || m == "watch"
}

// NeedsWallet reports whether the mode signs transactions.
func (c *Config) NeedsWallet() bool {
	return strings.ToLower(c.Mode) == "snipe" && !c.Executor.DryRun
}

// TargetSpec parses the target section into its domain form.
func (c *Config) TargetSpec() (domain.TargetConfig, error) {
	sel, err := domain.ParseSelector(c.Target.FunctionSelector)
	if err != nil {
		return domain.TargetConfig{}, fmt.Errorf("config: target: %w", err)
	}
	if !common.IsHexAddress(c.Target.ContractAddress) {
		return domain.TargetConfig{}, fmt.Errorf("config: target: invalid contract_address %q", c.Target.ContractAddress)
	}
	var own common.Address
	if c.Target.OwnAddress != "" {
		if !common.IsHexAddress(c.Target.OwnAddress) {
			return domain.TargetConfig{}, fmt.Errorf("config: target: invalid own_address %q", c.Target.OwnAddress)
		}
		own = common.HexToAddress(c.Target.OwnAddress)
	}
	return domain.TargetConfig{
		ContractAddress:  common.HexToAddress(c.Target.ContractAddress),
		FunctionSelector: sel,
		OwnAddress:       own,
	}, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: snipe, watch, server)", c.Mode))
	}

	// Logging
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	if c.NeedsChain() {
		// Chain
		if c.Chain.WsURL == "" {
			errs = append(errs, "chain: ws_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.MaxReconnectDelay.Duration < c.Chain.ReconnectDelay.Duration {
			errs = append(errs, "chain: max_reconnect_delay must be >= reconnect_delay")
		}
		if c.Chain.MaxReconnects < 0 {
			errs = append(errs, "chain: max_reconnects must be >= 0")
		}
		if c.Chain.SubscribeBuffer < 1 {
			errs = append(errs, "chain: subscribe_buffer must be >= 1")
		}

		// Target
		if _, err := domain.ParseSelector(c.Target.FunctionSelector); err != nil {
			errs = append(errs, "target: function_selector must be 4 hex bytes")
		}
		if !common.IsHexAddress(c.Target.ContractAddress) {
			errs = append(errs, fmt.Sprintf("target: contract_address %q is not a valid address", c.Target.ContractAddress))
		}
		if c.Target.OwnAddress != "" && !common.IsHexAddress(c.Target.OwnAddress) {
			errs = append(errs, fmt.Sprintf("target: own_address %q is not a valid address", c.Target.OwnAddress))
		}

		// Bid
		if c.Bid.FeeBumpPercent < 100 {
			errs = append(errs, "bid: fee_bump_percent must be >= 100")
		}
		if c.Bid.DefaultFeePerGasWei == 0 {
			errs = append(errs, "bid: default_fee_per_gas_wei must be > 0")
		}
		if c.Bid.GasLimit == 0 {
			errs = append(errs, "bid: gas_limit must be > 0")
		}

		// Strategy
		if len(c.Strategy.Active) == 0 {
			errs = append(errs, "strategy: active must list at least one strategy")
		}

		// Executor
		if c.Executor.QueueSize < 1 {
			errs = append(errs, "executor: queue_size must be >= 1")
		}
		if c.Executor.MaxInFlight < 1 {
			errs = append(errs, "executor: max_in_flight must be >= 1")
		}
		if c.Executor.SubmitTimeout.Duration <= 0 {
			errs = append(errs, "executor: submit_timeout must be > 0")
		}
		if c.Executor.DedupTTL.Duration <= 0 {
			errs = append(errs, "executor: dedup_ttl must be > 0")
		}
		if c.Executor.RateLimit < 0 {
			errs = append(errs, "executor: rate_limit must be >= 0")
		}
		if c.Executor.RateLimit > 0 && c.Executor.RateWindow.Duration <= 0 {
			errs = append(errs, "executor: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Wallet: one credential source must be specified for signing modes.
	if c.NeedsWallet() {
		if c.Chain.HTTPURL == "" {
			errs = append(errs, "chain: http_url must not be empty for mode snipe")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
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
	}

	// Postgres
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if strings.ToLower(c.Mode) == "server" && !c.Postgres.Enabled {
		errs = append(errs, "postgres: must be enabled for mode server")
	}

	// S3 / archive
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
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
