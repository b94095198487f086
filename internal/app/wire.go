package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/mvtreasury/vaultbot/internal/blob/s3"
	"github.com/mvtreasury/vaultbot/internal/cache/redis"
	"github.com/mvtreasury/vaultbot/internal/config"
	"github.com/mvtreasury/vaultbot/internal/domain"
	"github.com/mvtreasury/vaultbot/internal/ledger"
	"github.com/mvtreasury/vaultbot/internal/notify"
	"github.com/mvtreasury/vaultbot/internal/platform/advisor"
	"github.com/mvtreasury/vaultbot/internal/platform/jupiter"
	"github.com/mvtreasury/vaultbot/internal/platform/lending"
	"github.com/mvtreasury/vaultbot/internal/platform/pricefeed"
	"github.com/mvtreasury/vaultbot/internal/platform/privacy"
	"github.com/mvtreasury/vaultbot/internal/platform/solana"
	"github.com/mvtreasury/vaultbot/internal/position"
	"github.com/mvtreasury/vaultbot/internal/rebalance"
	"github.com/mvtreasury/vaultbot/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger read path.
	Annotations *ledger.Cache
	Valuer      *position.Valuer
	Snapshotter *position.Snapshotter

	// External collaborators.
	Advisor   domain.Advisor
	Transfers domain.TransferExecutor
	Swaps     domain.SwapService
	Yield     domain.YieldService

	// Infrastructure.
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	RunStore    domain.RunStore        // nil when postgres is disabled
	Archiver    *s3blob.ReportArchiver // nil when s3 is disabled

	// Engine.
	Orchestrator *rebalance.Orchestrator

	// Notifications.
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis: price cache, rebalance locks, API rate limiting ---
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

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- PostgreSQL run history ---
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
		deps.RunStore = postgres.NewRunStore(pgClient.Pool())
	}

	// --- S3 run-report archive ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewReportArchiver(s3blob.NewWriter(s3Client), logger)
	}

	// --- Ledger read path ---
	rpc := solana.NewClient(cfg.Solana.RPCURL)
	reader := ledger.NewReader(rpc, ledger.ReaderConfig{
		MaxRetries:  cfg.Solana.MaxRetries,
		BaseBackoff: cfg.Solana.BaseBackoff.Duration,
		MaxBackoff:  cfg.Solana.MaxBackoff.Duration,
		Jitter:      cfg.Solana.Jitter.Duration,
	}, logger)
	deps.Annotations = ledger.NewCache(reader, cfg.Solana.CacheTTL.Duration, logger)

	// --- Valuation ---
	prices := pricefeed.NewClient(cfg.Pricefeed.BaseURL, cfg.Pricefeed.APIKey)
	deps.Valuer = position.NewValuer(prices, deps.PriceCache, logger)
	deps.Snapshotter = position.NewSnapshotter(deps.Annotations, deps.Valuer, cfg.Solana.PageLimit)

	// --- External collaborators ---
	deps.Advisor = advisor.NewClient(cfg.Advisor.BaseURL, cfg.Advisor.APIKey)
	deps.Transfers = privacy.NewClient(cfg.Privacy.BaseURL, cfg.Privacy.APIKey)
	deps.Swaps = jupiter.NewClient(cfg.Swap.BaseURL, cfg.Swap.APIKey)
	deps.Yield = lending.NewClient(cfg.Lending.BaseURL, cfg.Lending.APIKey)

	// --- Rebalancing engine ---
	deps.Orchestrator = rebalance.NewOrchestrator(
		deps.Annotations,
		deps.Valuer,
		deps.Advisor,
		deps.Transfers,
		deps.Swaps,
		deps.Yield,
		deps.LockManager,
		deps.RunStore,
		rebalance.Config{
			Deadband:      cfg.Rebalance.DeadbandUSD,
			PageLimit:     cfg.Solana.PageLimit,
			LockTTL:       cfg.Rebalance.LockTTL.Duration,
			StableAssetID: cfg.Rebalance.StableAssetID,
			GrowthAssetID: cfg.Rebalance.GrowthAssetID,
			DegenAssetID:  cfg.Rebalance.DegenAssetID,
		},
		logger,
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
