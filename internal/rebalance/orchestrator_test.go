package rebalance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvtreasury/vaultbot/internal/domain"
	"github.com/mvtreasury/vaultbot/internal/ledger"
	"github.com/mvtreasury/vaultbot/internal/position"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes -----------------------------------------------------------------

type fakeAnnotations struct {
	mu          sync.Mutex
	byVault     map[domain.VaultID][]domain.Annotation
	err         error
	invalidated []string
}

func (f *fakeAnnotations) FetchAnnotations(ctx context.Context, account string, vault domain.VaultID, limit int) ([]domain.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.byVault[vault], nil
}

func (f *fakeAnnotations) InvalidateAccount(account string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, account)
}

type fakePrices struct{ quotes map[string]float64 }

func (f *fakePrices) GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range assetIDs {
		if p, ok := f.quotes[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeAdvisor struct {
	allocation domain.Allocation
	err        error
}

func (f *fakeAdvisor) TargetAllocation(ctx context.Context, tier domain.RiskTier) (domain.Allocation, error) {
	return f.allocation, f.err
}

type fakeTransfers struct {
	mu       sync.Mutex
	balances domain.VaultBalances
	execErr  error
	executed []domain.TransferPlanEntry
	prepared []domain.TransferPlanEntry
}

func (f *fakeTransfers) Execute(ctx context.Context, source, dest string, amount float64) (domain.TransferReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, domain.TransferPlanEntry{SourceAccount: source, DestAccount: dest, Amount: amount})
	if f.execErr != nil {
		return domain.TransferReceipt{}, f.execErr
	}
	return domain.TransferReceipt{Success: true, ReferenceID: "ref-1"}, nil
}

func (f *fakeTransfers) Prepare(ctx context.Context, source, dest string, amount float64) (domain.UnsignedTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, domain.TransferPlanEntry{SourceAccount: source, DestAccount: dest, Amount: amount})
	return domain.UnsignedTransfer{Payload: []byte("unsigned"), SourceAccount: source, DestAccount: dest, Amount: amount}, nil
}

func (f *fakeTransfers) Balances(ctx context.Context, wallet string) (domain.VaultBalances, error) {
	return f.balances, nil
}

type fakeSwaps struct {
	mu      sync.Mutex
	failFor map[string]error // keyed by account
	calls   []string
}

func (f *fakeSwaps) Swap(ctx context.Context, account, fromAsset, toAsset string, amount float64) (domain.TransferReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, account)
	if err, ok := f.failFor[account]; ok {
		return domain.TransferReceipt{}, err
	}
	return domain.TransferReceipt{Success: true}, nil
}

type fakeYield struct {
	mu        sync.Mutex
	deposits  []float64
	withdraws []float64
	err       error
}

func (f *fakeYield) Deposit(ctx context.Context, account string, amount float64) (domain.TransferReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits = append(f.deposits, amount)
	if f.err != nil {
		return domain.TransferReceipt{}, f.err
	}
	return domain.TransferReceipt{Success: true}, nil
}

func (f *fakeYield) Withdraw(ctx context.Context, account string, amount float64) (domain.TransferReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdraws = append(f.withdraws, amount)
	if f.err != nil {
		return domain.TransferReceipt{}, f.err
	}
	return domain.TransferReceipt{Success: true}, nil
}

type fakeLocks struct {
	held     bool
	acquired []string
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired = append(f.acquired, key)
	return func() {}, nil
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []domain.RebalanceRun
}

func (f *fakeRuns) SaveRun(ctx context.Context, run domain.RebalanceRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRuns) GetRun(ctx context.Context, id string) (domain.RebalanceRun, error) {
	return domain.RebalanceRun{}, domain.ErrNotFound
}

func (f *fakeRuns) ListRuns(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.RebalanceRun, error) {
	return f.runs, nil
}

// --- fixture ----------------------------------------------------------------

type fixture struct {
	annotations *fakeAnnotations
	advisor     *fakeAdvisor
	transfers   *fakeTransfers
	swaps       *fakeSwaps
	yield       *fakeYield
	locks       *fakeLocks
	runs        *fakeRuns
	orch        *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	growthOpen := domain.Annotation{
		Vault: domain.VaultGrowth, Action: domain.ActionOpen,
		AssetSymbol: "SOL", AssetID: "sol-mint",
		Quantity: 2, UnitPrice: 100, OccurredAt: time.UnixMilli(1000).UTC(),
	}

	f := &fixture{
		annotations: &fakeAnnotations{byVault: map[domain.VaultID][]domain.Annotation{
			domain.VaultGrowth: {growthOpen},
		}},
		advisor:   &fakeAdvisor{allocation: domain.Allocation{Reserve: 25, Yield: 35, Growth: 30, Degen: 10}},
		transfers: &fakeTransfers{balances: domain.VaultBalances{
			Vaults: map[domain.VaultID]float64{
				domain.VaultReserve: 300,
				domain.VaultYield:   200,
				domain.VaultDegen:   100,
			},
		}},
		swaps: &fakeSwaps{failFor: map[string]error{}},
		yield: &fakeYield{},
		locks: &fakeLocks{},
		runs:  &fakeRuns{},
	}

	valuer := position.NewValuer(&fakePrices{quotes: map[string]float64{"sol-mint": 150}}, nil, testLogger())
	f.orch = NewOrchestrator(
		f.annotations, valuer, f.advisor, f.transfers, f.swaps, f.yield, f.locks, f.runs,
		Config{
			Deadband:      1.0,
			StableAssetID: "usdc-mint",
			GrowthAssetID: "sol-mint",
			DegenAssetID:  "bonk-mint",
		},
		testLogger(),
	)
	return f
}

// --- tests -------------------------------------------------------------------

func TestRebalanceFullSuccess(t *testing.T) {
	f := newFixture(t)

	run, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced})
	require.NoError(t, err)

	assert.Equal(t, domain.RebalanceSucceeded, run.Status)
	assert.Equal(t, domain.AllocationFromAdvisor, run.AllocationSource)
	// Growth positions (2 SOL @ 150 = 300) + cash 600 = 900 total.
	assert.InDelta(t, 900, run.TotalValue, 1e-9)
	assert.Len(t, run.Vaults, 4, "all four vaults attempted")
	assert.Empty(t, run.Errors)
	assert.NotEmpty(t, f.transfers.executed)
	assert.Equal(t, []string{"rebalance:wallet-1"}, f.locks.acquired)
	assert.Equal(t, []string{"wallet-1"}, f.annotations.invalidated)
	require.Len(t, f.runs.runs, 1)
	assert.Equal(t, run.ID, f.runs.runs[0].ID)
}

func TestRebalancePartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	// The growth vault's strategy execution fails; siblings must still run.
	f.swaps.failFor[domain.VaultAccount("wallet-1", domain.VaultGrowth)] = errors.New("swap route unavailable")

	run, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced})
	require.NoError(t, err, "partial failure is reported, never raised")

	assert.Equal(t, domain.RebalancePartial, run.Status)
	require.Len(t, run.Vaults, 4)

	byVault := map[domain.VaultID]domain.VaultOutcome{}
	for _, v := range run.Vaults {
		byVault[v.Vault] = v
	}
	assert.Contains(t, byVault[domain.VaultGrowth].Error, "swap route unavailable")
	assert.Empty(t, byVault[domain.VaultReserve].Error)
	assert.Empty(t, byVault[domain.VaultYield].Error)
	assert.Empty(t, byVault[domain.VaultDegen].Error)
	assert.NotEmpty(t, f.yield.deposits, "yield strategy still executed")
}

func TestRebalanceAdvisorUnavailableUsesFallback(t *testing.T) {
	f := newFixture(t)
	f.advisor.err = domain.ErrAdvisorUnavailable

	run, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskAggressive})
	require.NoError(t, err)

	assert.Equal(t, domain.AllocationFromFallback, run.AllocationSource)
	assert.InDelta(t, 10, run.Allocation.Reserve, 1e-12)
	assert.InDelta(t, 25, run.Allocation.Degen, 1e-12)
	assert.NotEqual(t, domain.RebalanceFailed, run.Status)
}

func TestRebalanceInvalidAdvisorAllocationUsesFallback(t *testing.T) {
	f := newFixture(t)
	f.advisor.allocation = domain.Allocation{Reserve: 90} // sums to 90

	run, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced})
	require.NoError(t, err)
	assert.Equal(t, domain.AllocationFromFallback, run.AllocationSource)
}

func TestRebalanceDryRunPreparesUnsignedTransfers(t *testing.T) {
	f := newFixture(t)

	run, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced, DryRun: true})
	require.NoError(t, err)

	assert.True(t, run.DryRun)
	assert.Empty(t, f.transfers.executed, "dry run must not execute")
	assert.NotEmpty(t, f.transfers.prepared)
	for _, outcome := range run.Transfers {
		require.NotNil(t, outcome.Unsigned)
		assert.Equal(t, []byte("unsigned"), outcome.Unsigned.Payload)
	}
	assert.Empty(t, f.swaps.calls, "strategies are not executed in dry run")
	assert.Empty(t, f.yield.deposits)
}

func TestRebalanceTransferFailureRecordedNotFatal(t *testing.T) {
	f := newFixture(t)
	f.transfers.execErr = domain.ErrInsufficientBalance

	run, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced})
	require.NoError(t, err)

	assert.Equal(t, domain.RebalancePartial, run.Status)
	require.NotEmpty(t, run.Transfers)
	for _, outcome := range run.Transfers {
		assert.False(t, outcome.Receipt.Success)
		assert.Contains(t, outcome.Receipt.Error, "insufficient balance")
	}
	assert.Len(t, f.transfers.executed, len(run.Transfers), "every transfer attempted")
}

func TestRebalanceLockHeldRejectsRun(t *testing.T) {
	f := newFixture(t)
	f.locks.held = true

	run, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced})
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, domain.RebalanceFailed, run.Status)
	assert.Empty(t, f.transfers.executed)
}

func TestRebalanceLedgerFailureFailsRun(t *testing.T) {
	f := newFixture(t)
	f.annotations.err = domain.ErrLedgerUnavailable

	run, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced})
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.Equal(t, domain.RebalanceFailed, run.Status)
	assert.NotEmpty(t, run.Errors)
}

func TestRebalanceWorksThroughAnnotationCache(t *testing.T) {
	// The orchestrator sees identical positions whether reads go through the
	// cache or straight to the source.
	f := newFixture(t)

	cached := ledger.NewCache(f.annotations, time.Minute, testLogger())
	valuer := position.NewValuer(&fakePrices{quotes: map[string]float64{"sol-mint": 150}}, nil, testLogger())
	orchCached := NewOrchestrator(
		cached, valuer, f.advisor, f.transfers, f.swaps, f.yield, f.locks, nil,
		Config{Deadband: 1.0, StableAssetID: "usdc-mint", GrowthAssetID: "sol-mint", DegenAssetID: "bonk-mint"},
		testLogger(),
	)

	direct, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced, DryRun: true})
	require.NoError(t, err)
	viaCache, err := orchCached.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced, DryRun: true})
	require.NoError(t, err)

	assert.InDelta(t, direct.TotalValue, viaCache.TotalValue, 1e-9)
	assert.Equal(t, len(direct.Transfers), len(viaCache.Transfers))
}

func TestRebalanceDeadbandProducesNoTransfers(t *testing.T) {
	f := newFixture(t)
	// Balances already match the advisor allocation of a 1000 treasury.
	f.annotations.byVault = map[domain.VaultID][]domain.Annotation{}
	f.transfers.balances = domain.VaultBalances{Vaults: map[domain.VaultID]float64{
		domain.VaultReserve: 250,
		domain.VaultYield:   350,
		domain.VaultGrowth:  300,
		domain.VaultDegen:   100,
	}}

	run, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced})
	require.NoError(t, err)
	assert.Empty(t, run.Transfers)
	assert.Equal(t, domain.RebalanceSucceeded, run.Status)
}

func TestRebalanceSummaryCountsAllErrors(t *testing.T) {
	f := newFixture(t)
	f.transfers.execErr = fmt.Errorf("network down")
	f.swaps.failFor[domain.VaultAccount("wallet-1", domain.VaultGrowth)] = errors.New("no route")

	run, err := f.orch.Rebalance(context.Background(), Request{Wallet: "wallet-1", RiskTier: domain.RiskBalanced})
	require.NoError(t, err)
	assert.Equal(t, domain.RebalancePartial, run.Status)
	assert.GreaterOrEqual(t, len(run.Errors), 2)
}
