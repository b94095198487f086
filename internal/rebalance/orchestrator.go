// Package rebalance drives the full treasury rebalancing pipeline: load
// ledger state, value positions, plan transfers, execute them, run per-vault
// strategies, and summarize the outcome.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mvtreasury/vaultbot/internal/allocation"
	"github.com/mvtreasury/vaultbot/internal/domain"
	"github.com/mvtreasury/vaultbot/internal/position"
)

// Pipeline stages, in execution order. Used for structured logging and error
// context only; the flow itself is linear.
const (
	stageLoadLedger = "LOAD_LEDGER"
	stageValue      = "VALUE"
	stagePlan       = "PLAN"
	stageTransfers  = "EXECUTE_TRANSFERS"
	stageStrategies = "EXECUTE_STRATEGIES"
	stageSummarize  = "SUMMARIZE"
)

const (
	defaultLockTTL   = 2 * time.Minute
	defaultPageLimit = 100
)

// Config tunes one orchestrator instance.
type Config struct {
	// Deadband is the minimum USD diff that produces a transfer.
	Deadband float64
	// PageLimit bounds the per-vault ledger read.
	PageLimit int
	// LockTTL caps how long a wallet's rebalance lock is held.
	LockTTL time.Duration
	// StableAssetID is the treasury stablecoin used as the counter asset for
	// every vault swap.
	StableAssetID string
	// GrowthAssetID and DegenAssetID are the benchmark assets bought when the
	// growth/degen vaults are below target and hold nothing yet.
	GrowthAssetID string
	DegenAssetID  string
}

func (c Config) withDefaults() Config {
	if c.Deadband <= 0 {
		c.Deadband = allocation.DefaultDeadband
	}
	if c.PageLimit <= 0 {
		c.PageLimit = defaultPageLimit
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaultLockTTL
	}
	return c
}

// Request describes one rebalance invocation.
type Request struct {
	Wallet   string
	RiskTier domain.RiskTier
	// DryRun switches transfer execution to prepare mode: the primitives
	// return unsigned payloads instead of submitting, and vault strategies
	// are planned but not executed.
	DryRun bool
}

// Orchestrator sequences a rebalance run. Per-vault strategy failures are
// recorded and never abort sibling vaults; the orchestrator always attempts
// all four before returning.
type Orchestrator struct {
	annotations domain.AnnotationSource
	valuer      *position.Valuer
	advisor     domain.Advisor
	transfers   domain.TransferExecutor
	swaps       domain.SwapService
	yield       domain.YieldService
	locks       domain.LockManager
	runs        domain.RunStore // optional
	cfg         Config
	logger      *slog.Logger
}

// NewOrchestrator wires an Orchestrator. runs may be nil when run history is
// not persisted; locks may be nil only in tests.
func NewOrchestrator(
	annotations domain.AnnotationSource,
	valuer *position.Valuer,
	advisor domain.Advisor,
	transfers domain.TransferExecutor,
	swaps domain.SwapService,
	yield domain.YieldService,
	locks domain.LockManager,
	runs domain.RunStore,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		annotations: annotations,
		valuer:      valuer,
		advisor:     advisor,
		transfers:   transfers,
		swaps:       swaps,
		yield:       yield,
		locks:       locks,
		runs:        runs,
		cfg:         cfg.withDefaults(),
		logger:      logger.With(slog.String("component", "rebalance")),
	}
}

// Rebalance runs the full pipeline for one wallet. It returns a structured
// run result for every outcome short of "could not even start": partial
// failures are reported in the run, not as an error. The returned error is
// non-nil only when no plan could be produced (run.Status is then
// RebalanceFailed) or when another run already holds the wallet's lock.
func (o *Orchestrator) Rebalance(ctx context.Context, req Request) (domain.RebalanceRun, error) {
	run := domain.RebalanceRun{
		ID:        uuid.New().String(),
		Wallet:    req.Wallet,
		RiskTier:  req.RiskTier,
		DryRun:    req.DryRun,
		StartedAt: time.Now().UTC(),
	}
	log := o.logger.With(slog.String("run_id", run.ID), slog.String("wallet", req.Wallet))

	// No two runs for the same wallet may execute concurrently: transfer
	// primitives mutate shared external balances.
	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, "rebalance:"+req.Wallet, o.cfg.LockTTL)
		if err != nil {
			return o.fail(ctx, run, fmt.Errorf("rebalance: acquire wallet lock: %w", err))
		}
		defer unlock()
	}

	// LOAD_LEDGER: per-vault reads are independent and fetched concurrently.
	log.InfoContext(ctx, "stage", slog.String("stage", stageLoadLedger))
	annotations, err := o.loadLedger(ctx, req.Wallet)
	if err != nil {
		return o.fail(ctx, run, fmt.Errorf("rebalance: load ledger: %w", err))
	}

	// VALUE: rebuild positions, price them, and snapshot cash balances.
	log.InfoContext(ctx, "stage", slog.String("stage", stageValue))
	positions := position.Reconstruct(annotations)
	valued, err := o.valuer.Value(ctx, positions)
	if err != nil {
		return o.fail(ctx, run, fmt.Errorf("rebalance: value positions: %w", err))
	}
	balances, err := o.transfers.Balances(ctx, req.Wallet)
	if err != nil {
		return o.fail(ctx, run, fmt.Errorf("rebalance: fetch balances: %w", err))
	}

	vaultValues := vaultTotals(valued, balances)
	totalValue := balances.WalletCash
	for _, v := range vaultValues {
		totalValue += v
	}
	run.TotalValue = totalValue

	// PLAN: advisor allocation, deterministic fallback on any advisor fault.
	log.InfoContext(ctx, "stage", slog.String("stage", stagePlan))
	run.Allocation, run.AllocationSource = o.resolveAllocation(ctx, req.RiskTier, log)

	planBalances := domain.VaultBalances{Vaults: vaultValues, WalletCash: balances.WalletCash}
	plan, err := allocation.Plan(req.Wallet, totalValue, planBalances, run.Allocation, o.cfg.Deadband)
	if err != nil {
		return o.fail(ctx, run, fmt.Errorf("rebalance: plan: %v: %w", err, domain.ErrNoPlan))
	}

	// EXECUTE_TRANSFERS: each entry is attempted; failures are recorded and
	// do not stop the remaining entries.
	log.InfoContext(ctx, "stage", slog.String("stage", stageTransfers), slog.Int("transfers", len(plan)))
	run.Transfers = o.executeTransfers(ctx, plan, req.DryRun, log)

	// EXECUTE_STRATEGIES: all four vaults are always attempted.
	log.InfoContext(ctx, "stage", slog.String("stage", stageStrategies))
	targets := allocation.TargetValues(totalValue, run.Allocation)
	run.Vaults = o.executeStrategies(ctx, req, valued, vaultValues, targets, log)

	// SUMMARIZE.
	log.InfoContext(ctx, "stage", slog.String("stage", stageSummarize))
	o.summarize(&run)
	run.FinishedAt = time.Now().UTC()

	o.invalidateCache(req.Wallet)
	o.persist(ctx, run, log)

	log.InfoContext(ctx, "rebalance finished",
		slog.String("status", string(run.Status)),
		slog.Float64("total_value", run.TotalValue),
		slog.Int("transfers", len(run.Transfers)),
		slog.Int("errors", len(run.Errors)),
	)
	return run, nil
}

// loadLedger fetches every vault's annotations concurrently and merges them.
func (o *Orchestrator) loadLedger(ctx context.Context, wallet string) ([]domain.Annotation, error) {
	results := make([][]domain.Annotation, len(domain.AllVaults))

	g, ctx := errgroup.WithContext(ctx)
	for i, vault := range domain.AllVaults {
		g.Go(func() error {
			annotations, err := o.annotations.FetchAnnotations(ctx, wallet, vault, o.cfg.PageLimit)
			if err != nil {
				return fmt.Errorf("vault %s: %w", vault, err)
			}
			results[i] = annotations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []domain.Annotation
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, nil
}

// resolveAllocation asks the advisor and falls back to the deterministic
// table on any fault, including an allocation that fails validation.
func (o *Orchestrator) resolveAllocation(ctx context.Context, tier domain.RiskTier, log *slog.Logger) (domain.Allocation, domain.AllocationSource) {
	target, err := o.advisor.TargetAllocation(ctx, tier)
	if err != nil {
		log.WarnContext(ctx, "advisor unavailable, using fallback allocation",
			slog.String("risk_tier", string(tier)),
			slog.String("error", err.Error()),
		)
		return allocation.Fallback(tier), domain.AllocationFromFallback
	}
	if err := target.Validate(); err != nil {
		log.WarnContext(ctx, "advisor returned invalid allocation, using fallback",
			slog.String("error", err.Error()),
		)
		return allocation.Fallback(tier), domain.AllocationFromFallback
	}
	return target, domain.AllocationFromAdvisor
}

// executeTransfers runs (or prepares, in dry-run mode) every plan entry.
func (o *Orchestrator) executeTransfers(ctx context.Context, plan []domain.TransferPlanEntry, dryRun bool, log *slog.Logger) []domain.TransferOutcome {
	outcomes := make([]domain.TransferOutcome, 0, len(plan))

	for _, entry := range plan {
		outcome := domain.TransferOutcome{Entry: entry}

		if dryRun {
			unsigned, err := o.transfers.Prepare(ctx, entry.SourceAccount, entry.DestAccount, entry.Amount)
			if err != nil {
				outcome.Receipt = domain.TransferReceipt{Error: err.Error()}
			} else {
				outcome.Unsigned = &unsigned
				outcome.Receipt = domain.TransferReceipt{Success: true}
			}
		} else {
			receipt, err := o.transfers.Execute(ctx, entry.SourceAccount, entry.DestAccount, entry.Amount)
			if err != nil {
				receipt = domain.TransferReceipt{Error: err.Error()}
			}
			outcome.Receipt = receipt
		}

		if !outcome.Receipt.Success {
			log.WarnContext(ctx, "transfer failed",
				slog.String("vault", string(entry.Vault)),
				slog.String("direction", string(entry.Direction)),
				slog.Float64("amount", entry.Amount),
				slog.String("error", outcome.Receipt.Error),
			)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// executeStrategies runs each vault's strategy independently. A failure in
// one vault is recorded in its outcome and never aborts the others.
func (o *Orchestrator) executeStrategies(
	ctx context.Context,
	req Request,
	valued []domain.ValuedPosition,
	vaultValues map[domain.VaultID]float64,
	targets map[domain.VaultID]float64,
	log *slog.Logger,
) []domain.VaultOutcome {
	outcomes := make([]domain.VaultOutcome, 0, len(domain.AllVaults))

	for _, vault := range domain.AllVaults {
		outcome := domain.VaultOutcome{Vault: vault, TargetValue: targets[vault]}

		if !req.DryRun {
			if err := o.executeVaultStrategy(ctx, req.Wallet, vault, valued, vaultValues[vault], targets[vault]); err != nil {
				outcome.Error = err.Error()
				log.WarnContext(ctx, "vault strategy failed",
					slog.String("vault", string(vault)),
					slog.String("error", err.Error()),
				)
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// executeVaultStrategy converges one vault toward its target value through
// the external primitives: lending for the yield vault, swaps against the
// stablecoin for growth and degen. The reserve vault holds cash only.
func (o *Orchestrator) executeVaultStrategy(ctx context.Context, wallet string, vault domain.VaultID, valued []domain.ValuedPosition, current, target float64) error {
	delta := target - current
	if math.Abs(delta) <= o.cfg.Deadband {
		return nil
	}
	account := domain.VaultAccount(wallet, vault)

	switch vault {
	case domain.VaultReserve:
		// Cash sink; transfers alone rebalance it.
		return nil

	case domain.VaultYield:
		var receipt domain.TransferReceipt
		var err error
		if delta > 0 {
			receipt, err = o.yield.Deposit(ctx, account, delta)
		} else {
			receipt, err = o.yield.Withdraw(ctx, account, -delta)
		}
		return receiptErr(receipt, err)

	case domain.VaultGrowth, domain.VaultDegen:
		if delta > 0 {
			receipt, err := o.swaps.Swap(ctx, account, o.cfg.StableAssetID, o.benchmarkAsset(vault, valued), delta)
			return receiptErr(receipt, err)
		}
		// Over target: unwind the vault's largest position back to stable.
		largest := largestPosition(valued, vault)
		if largest == "" {
			return nil // nothing held to unwind
		}
		receipt, err := o.swaps.Swap(ctx, account, largest, o.cfg.StableAssetID, -delta)
		return receiptErr(receipt, err)
	}
	return nil
}

// benchmarkAsset picks what a below-target vault buys: its largest existing
// holding, or the configured benchmark when it holds nothing yet.
func (o *Orchestrator) benchmarkAsset(vault domain.VaultID, valued []domain.ValuedPosition) string {
	if largest := largestPosition(valued, vault); largest != "" {
		return largest
	}
	if vault == domain.VaultDegen {
		return o.cfg.DegenAssetID
	}
	return o.cfg.GrowthAssetID
}

func largestPosition(valued []domain.ValuedPosition, vault domain.VaultID) string {
	var assetID string
	var best float64
	for _, p := range valued {
		if p.Vault == vault && p.ValueUSD > best {
			best = p.ValueUSD
			assetID = p.AssetID
		}
	}
	return assetID
}

// receiptErr folds a primitive's (receipt, error) pair into a single error.
func receiptErr(receipt domain.TransferReceipt, err error) error {
	if err != nil {
		return err
	}
	if !receipt.Success {
		if receipt.Error != "" {
			return errors.New(receipt.Error)
		}
		return domain.ErrInsufficientBalance
	}
	return nil
}

// summarize derives the run status and aggregate error list.
func (o *Orchestrator) summarize(run *domain.RebalanceRun) {
	for _, t := range run.Transfers {
		if !t.Receipt.Success {
			run.Errors = append(run.Errors, fmt.Sprintf("transfer %s %s: %s", t.Entry.Direction, t.Entry.Vault, t.Receipt.Error))
		}
	}
	for _, v := range run.Vaults {
		if v.Error != "" {
			run.Errors = append(run.Errors, fmt.Sprintf("vault %s: %s", v.Vault, v.Error))
		}
	}
	sort.Strings(run.Errors)

	if len(run.Errors) > 0 {
		run.Status = domain.RebalancePartial
	} else {
		run.Status = domain.RebalanceSucceeded
	}
}

// fail finalizes a run that produced no plan.
func (o *Orchestrator) fail(ctx context.Context, run domain.RebalanceRun, err error) (domain.RebalanceRun, error) {
	run.Status = domain.RebalanceFailed
	run.Errors = append(run.Errors, err.Error())
	run.FinishedAt = time.Now().UTC()
	if !errors.Is(err, domain.ErrLockHeld) {
		o.persist(ctx, run, o.logger)
	}
	return run, err
}

// persist saves the run best-effort; history is useful but never blocks the
// rebalance result.
func (o *Orchestrator) persist(ctx context.Context, run domain.RebalanceRun, log *slog.Logger) {
	if o.runs == nil {
		return
	}
	if err := o.runs.SaveRun(ctx, run); err != nil {
		log.WarnContext(ctx, "failed to persist rebalance run",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}

// invalidateCache drops the wallet's annotation cache entries when the
// source supports it, so the next read sees the annotations this run wrote.
func (o *Orchestrator) invalidateCache(wallet string) {
	if inv, ok := o.annotations.(interface{ InvalidateAccount(string) }); ok {
		inv.InvalidateAccount(wallet)
	}
}

// vaultTotals folds position values into per-vault cash balances.
func vaultTotals(valued []domain.ValuedPosition, balances domain.VaultBalances) map[domain.VaultID]float64 {
	totals := make(map[domain.VaultID]float64, len(domain.AllVaults))
	for _, vault := range domain.AllVaults {
		totals[vault] = balances.Vaults[vault]
	}
	for _, p := range valued {
		totals[p.Vault] += p.ValueUSD
	}
	return totals
}
