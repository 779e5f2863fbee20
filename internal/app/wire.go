package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/cosminimum/polycopy/internal/blob/s3"
	"github.com/cosminimum/polycopy/internal/cache/redis"
	"github.com/cosminimum/polycopy/internal/config"
	"github.com/cosminimum/polycopy/internal/copytrade"
	"github.com/cosminimum/polycopy/internal/crypto"
	"github.com/cosminimum/polycopy/internal/domain"
	"github.com/cosminimum/polycopy/internal/execution"
	"github.com/cosminimum/polycopy/internal/notify"
	"github.com/cosminimum/polycopy/internal/platform/chain"
	"github.com/cosminimum/polycopy/internal/platform/orderbook"
	"github.com/cosminimum/polycopy/internal/setup"
	"github.com/cosminimum/polycopy/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Users     domain.UserStore
	Subs      domain.SubscriptionStore
	Policies  domain.PolicyStore
	Positions domain.PositionStore
	Records   domain.RecordStore
	Security  domain.SecurityStore

	// Infrastructure
	Locks   domain.LockManager
	Signers domain.SignerCache
	Chain   domain.Chain
	Book    domain.OrderBook

	// Engine
	Deriver      *crypto.Deriver
	Submitter    *execution.Submitter
	Orchestrator *copytrade.Orchestrator
	Configurator *setup.Configurator
	Archiver     *s3blob.Archiver
	Notifier     *notify.Notifier
}

// Wire constructs all concrete implementations from the configuration and
// returns them with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Users = postgres.NewUserStore(pool)
	deps.Subs = postgres.NewSubscriptionStore(pool)
	deps.Policies = postgres.NewPolicyStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Records = postgres.NewRecordStore(pool)
	deps.Security = postgres.NewSecurityStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Locks = redis.NewLockManager(redisClient)
	deps.Signers = redis.NewSignerCache(redisClient)

	// --- Delegated signer derivation ---
	masterSecret, err := crypto.LoadMasterSecret(crypto.SecretConfig{
		RawSecret:           cfg.Signer.MasterSecret,
		EncryptedSecretPath: cfg.Signer.EncryptedSecretPath,
		SecretPassword:      cfg.Signer.SecretPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: master secret: %w", err)
	}
	deps.Deriver, err = crypto.NewDeriver(masterSecret)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: deriver: %w", err)
	}

	// --- Chain ---
	chainClient, err := chain.New(ctx, chain.Config{
		RPCURL:           cfg.Chain.RPCURL,
		ChainID:          int64(cfg.Chain.ChainID),
		WithdrawalModule: cfg.Chain.WithdrawalModule,
		TradeGuard:       cfg.Chain.TradeGuard,
		CollateralToken:  cfg.Chain.CollateralToken,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	// --- Order book ---
	var auth *crypto.HMACAuth
	if cfg.Venue.ApiKey != "" {
		auth = &crypto.HMACAuth{
			Key:        cfg.Venue.ApiKey,
			Secret:     cfg.Venue.ApiSecret,
			Passphrase: cfg.Venue.ApiPassphrase,
		}
	}
	deps.Book = orderbook.New(cfg.Venue.ClobHost, cfg.Venue.ApiAddress, auth)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	deps.Submitter = execution.New(deps.Book, logger, execution.Config{
		MinOrderValue: cfg.Venue.MinOrderValue,
		SizeIncrement: cfg.Venue.SizeIncrement,
	})

	deps.Configurator = setup.New(deps.Chain, deps.Deriver, deps.Users, deps.Security, logger, setup.Config{
		WithdrawalModule: cfg.Chain.WithdrawalModule,
		TradeGuard:       cfg.Chain.TradeGuard,
		TxWait:           cfg.Chain.TxWait.Duration,
	})

	deps.Orchestrator = copytrade.New(copytrade.Deps{
		Users:     deps.Users,
		Subs:      deps.Subs,
		Policies:  deps.Policies,
		Positions: deps.Positions,
		Records:   deps.Records,
		Security:  deps.Security,
		Chain:     deps.Chain,
		Book:      deps.Book,
		Locks:     deps.Locks,
		Signers:   deps.Signers,
		Deriver:   deps.Deriver,
		Submitter: deps.Submitter,
		Notifier:  deps.Notifier,
		Logger:    logger,
	}, copytrade.Config{
		ChainID:         cfg.Chain.ChainID,
		ExchangeAddress: cfg.Chain.ExchangeAddress,
		StaleAfter:      cfg.Engine.StaleAfter.Duration,
		LockTTL:         cfg.Engine.LockTTL.Duration,
		Parallelism:     cfg.Engine.Parallelism,
	})

	// --- Record archival (optional) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(s3Client, deps.Records, logger, retention, 0)
	}

	return deps, cleanup, nil
}
