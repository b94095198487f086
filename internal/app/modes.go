package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mvtreasury/vaultbot/internal/domain"
	"github.com/mvtreasury/vaultbot/internal/platform/pricefeed"
	"github.com/mvtreasury/vaultbot/internal/rebalance"
	"github.com/mvtreasury/vaultbot/internal/server"
	"github.com/mvtreasury/vaultbot/internal/server/handler"
)

// RebalanceMode performs a single rebalance run for the configured wallet and
// exits. Suited to cron-style scheduling where an external system owns the
// cadence.
func (a *App) RebalanceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting rebalance mode",
		slog.String("wallet", a.cfg.Wallet.Address),
		slog.String("risk_tier", a.cfg.Wallet.RiskTier),
		slog.Bool("dry_run", a.cfg.Rebalance.DryRun),
	)

	run, err := deps.Orchestrator.Rebalance(ctx, rebalance.Request{
		Wallet:   a.cfg.Wallet.Address,
		RiskTier: domain.RiskTier(a.cfg.Wallet.RiskTier),
		DryRun:   a.cfg.Rebalance.DryRun,
	})
	if err != nil {
		return fmt.Errorf("rebalance mode: %w", err)
	}
	a.finishRun(ctx, deps, run)

	a.logger.InfoContext(ctx, "rebalance run complete",
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Float64("total_value", run.TotalValue),
		slog.Int("transfers", len(run.Transfers)),
	)
	if run.Status == domain.RebalanceFailed {
		return fmt.Errorf("rebalance mode: run %s failed", run.ID)
	}
	return nil
}

// ServeMode runs only the HTTP API. Rebalances happen when triggered through
// POST /api/rebalance; there is no internal schedule.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// MonitorMode keeps the price cache warm via the websocket feed and serves
// the read API. No scheduled rebalances run.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Pricefeed.WSURL != "" {
		feed := pricefeed.NewWSFeed(a.cfg.Pricefeed.WSURL, a.cfg.Pricefeed.Assets, deps.PriceCache, a.logger)
		g.Go(func() error {
			return feed.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "pricefeed.ws_url not set, valuation will use REST quotes only")
	}

	if a.cfg.Wallet.Address != "" {
		interval := a.cfg.Rebalance.Interval.Duration
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					a.logSnapshot(ctx, deps)
				}
			}
		})
	}

	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// logSnapshot values the configured wallet and logs the result. Monitor mode
// only observes; nothing is executed.
func (a *App) logSnapshot(ctx context.Context, deps *Dependencies) {
	positions, total, err := deps.Snapshotter.Snapshot(ctx, a.cfg.Wallet.Address)
	if err != nil {
		a.logger.WarnContext(ctx, "position snapshot failed",
			slog.String("wallet", a.cfg.Wallet.Address),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "position snapshot",
		slog.String("wallet", a.cfg.Wallet.Address),
		slog.Int("positions", len(positions)),
		slog.Float64("total_value", total),
	)
}

// FullMode runs everything: the interval scheduler, the price feed, and the
// HTTP API when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	interval := a.cfg.Rebalance.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		a.logger.InfoContext(ctx, "rebalance scheduler started",
			slog.Duration("interval", interval),
		)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.runScheduled(ctx, deps)
			}
		}
	})

	if a.cfg.Pricefeed.WSURL != "" {
		feed := pricefeed.NewWSFeed(a.cfg.Pricefeed.WSURL, a.cfg.Pricefeed.Assets, deps.PriceCache, a.logger)
		g.Go(func() error {
			return feed.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// runScheduled executes one scheduled rebalance. Failures are logged, not
// fatal; the scheduler keeps its cadence and the next tick retries.
func (a *App) runScheduled(ctx context.Context, deps *Dependencies) {
	run, err := deps.Orchestrator.Rebalance(ctx, rebalance.Request{
		Wallet:   a.cfg.Wallet.Address,
		RiskTier: domain.RiskTier(a.cfg.Wallet.RiskTier),
		DryRun:   a.cfg.Rebalance.DryRun,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "scheduled rebalance failed",
			slog.String("wallet", a.cfg.Wallet.Address),
			slog.String("error", err.Error()),
		)
		return
	}
	a.finishRun(ctx, deps, run)

	a.logger.InfoContext(ctx, "scheduled rebalance complete",
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("transfers", len(run.Transfers)),
	)
}

// finishRun handles post-run delivery: notifications and cold-storage
// archival. Both are best effort; dry runs are skipped entirely.
func (a *App) finishRun(ctx context.Context, deps *Dependencies, run domain.RebalanceRun) {
	if run.DryRun {
		return
	}

	if err := deps.Notifier.NotifyRun(ctx, run); err != nil {
		a.logger.WarnContext(ctx, "run notification failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	if deps.Archiver != nil {
		if err := deps.Archiver.ArchiveRun(ctx, run); err != nil {
			a.logger.WarnContext(ctx, "run archive failed",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// rebalancer adapts the orchestrator for the HTTP handler so API-triggered
// runs get the same notification and archival treatment as scheduled ones.
type rebalancer struct {
	app  *App
	deps *Dependencies
}

var _ handler.RebalanceService = (*rebalancer)(nil)

func (r *rebalancer) Rebalance(ctx context.Context, req rebalance.Request) (domain.RebalanceRun, error) {
	run, err := r.deps.Orchestrator.Rebalance(ctx, req)
	if err != nil {
		return run, err
	}
	r.app.finishRun(ctx, r.deps, run)
	return run, nil
}

// startHTTPServer adds the API server goroutines to the given errgroup. The
// server shuts down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Positions:  handler.NewPositionHandler(deps.Snapshotter, deps.Transfers, a.logger),
		Allocation: handler.NewAllocationHandler(deps.Advisor, a.logger),
		Rebalance:  handler.NewRebalanceHandler(&rebalancer{app: a, deps: deps}, deps.RunStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
