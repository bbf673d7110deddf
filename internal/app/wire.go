package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/winnerbot/internal/blob/s3"
	"github.com/alanyoungcy/winnerbot/internal/cache/redis"
	"github.com/alanyoungcy/winnerbot/internal/config"
	"github.com/alanyoungcy/winnerbot/internal/crypto"
	"github.com/alanyoungcy/winnerbot/internal/domain"
	"github.com/alanyoungcy/winnerbot/internal/executor"
	"github.com/alanyoungcy/winnerbot/internal/notify"
	"github.com/alanyoungcy/winnerbot/internal/platform/evm"
	"github.com/alanyoungcy/winnerbot/internal/server/handler"
	"github.com/alanyoungcy/winnerbot/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional backends are nil
// when disabled in config; Dedup is always set.
type Dependencies struct {
	Target domain.TargetConfig

	// Postgres
	Submissions domain.SubmissionStore
	Audit       domain.AuditStore

	// Redis
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.SignalBus

	// Dedup is Redis-backed when Redis is enabled, in-memory otherwise.
	Dedup domain.Deduplicator

	// Blob storage
	Archiver domain.Archiver
	Archives domain.BlobReader

	Notifier *notify.Notifier

	// Chain: Source is set for snipe and watch, Submitter only when signing.
	Source    *evm.MempoolSource
	Submitter domain.ActionSubmitter

	// HealthChecks test each connected backend for /api/health.
	HealthChecks map[string]handler.Check
}

// Wire builds the dependencies cfg asks for and returns them with a cleanup
// function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// Server mode only reads stored history, so the target is shown when it
	// parses and left zero otherwise.
	var target domain.TargetConfig
	if cfg.NeedsChain() {
		t, err := cfg.TargetSpec()
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		target = t
	} else if t, err := cfg.TargetSpec(); err == nil {
		target = t
	}
	deps := &Dependencies{
		Target:       target,
		HealthChecks: make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Submissions = postgres.NewSubmissionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Dedup = redis.NewDeduplicator(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.Dedup = executor.NewDedup(cfg.Executor.DedupMaxEntries)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.HealthChecks["s3"] = s3Client.Health
		reader := s3blob.NewReader(s3Client)
		deps.Archives = reader

		if cfg.Archive.Enabled && deps.Submissions != nil && deps.Audit != nil {
			archiver := s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				deps.Submissions,
				deps.Audit,
				cfg.Archive.DeleteAfterArchive,
			)
			archiver.SetReader(reader)
			deps.Archiver = archiver
		}
	}

	// --- Notifications ---
	deps.Notifier = notify.FromOptions(notify.Options{
		TelegramToken:     cfg.Notify.TelegramToken,
		TelegramChatID:    cfg.Notify.TelegramChatID,
		DiscordWebhookURL: cfg.Notify.DiscordWebhookURL,
		Events:            cfg.Notify.Events,
	}, logger)

	// --- Chain ---
	if cfg.NeedsChain() {
		deps.Source = evm.NewMempoolSource(evm.MempoolConfig{
			WsURL:         cfg.Chain.WsURL,
			ChainID:       cfg.Chain.ChainID,
			Buffer:        cfg.Chain.SubscribeBuffer,
			InitialDelay:  cfg.Chain.ReconnectDelay.Duration,
			MaxDelay:      cfg.Chain.MaxReconnectDelay.Duration,
			MaxReconnects: cfg.Chain.MaxReconnects,
		}, logger)
	}

	if cfg.NeedsWallet() {
		ethClient, submitter, err := wireSubmitter(ctx, cfg, target, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, ethClient.Close)
		deps.Submitter = submitter
		deps.HealthChecks["chain"] = func(ctx context.Context) error {
			_, err := ethClient.BlockNumber(ctx)
			return err
		}
	}

	return deps, cleanup, nil
}

// wireSubmitter loads the signing key, checks the node serves the configured
// chain, and builds the submitter.
func wireSubmitter(ctx context.Context, cfg *config.Config, target domain.TargetConfig, logger *slog.Logger) (*ethclient.Client, *evm.Submitter, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: load key: %w", err)
	}
	signer, err := crypto.NewTxSigner(key, cfg.Chain.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}

	ethClient, err := evm.Dial(ctx, cfg.Chain.HTTPURL)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		ethClient.Close()
		return nil, nil, fmt.Errorf("wire: query chain id: %w", err)
	}
	if chainID.Cmp(big.NewInt(cfg.Chain.ChainID)) != 0 {
		ethClient.Close()
		return nil, nil, fmt.Errorf("wire: node chain id %s does not match configured %d", chainID, cfg.Chain.ChainID)
	}

	submitter, err := evm.NewSubmitter(ethClient, signer, target.OwnAddress, logger)
	if err != nil {
		ethClient.Close()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	return ethClient, submitter, nil
}
