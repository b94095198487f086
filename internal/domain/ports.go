package domain

import (
	"context"
	"io"
	"time"
)

// LedgerService is the external append-only transaction history. It is
// rate-limited; callers must be prepared for ErrRateLimited and back off.
type LedgerService interface {
	// ListTransactionSignatures returns up to limit signatures for the
	// account, most recent first.
	ListTransactionSignatures(ctx context.Context, account string, limit int) ([]string, error)
	// GetParsedTransactions resolves signatures into parsed records carrying
	// any embedded text memos.
	GetParsedTransactions(ctx context.Context, signatures []string) ([]TransactionRecord, error)
}

// AnnotationSource yields the ordered annotation log for an account. vault
// may be empty to fetch annotations for all vaults.
type AnnotationSource interface {
	FetchAnnotations(ctx context.Context, account string, vault VaultID, limit int) ([]Annotation, error)
}

// PriceSource supplies current unit prices for a batch of asset IDs. Assets
// with no available quote are omitted from the result map, never an error.
type PriceSource interface {
	GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error)
}

// PriceCache provides fast access to the latest observed prices.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error)
}

// Advisor returns the AI-advised target allocation for a risk tier. It may
// fail or be rate-limited; callers fall back to the deterministic table.
type Advisor interface {
	TargetAllocation(ctx context.Context, tier RiskTier) (Allocation, error)
}

// TransferExecutor is the external transfer/swap primitive. Execute submits
// the transfer directly; Prepare returns an unsigned payload for external
// signing instead. Both modes serve the same plan entries.
type TransferExecutor interface {
	Execute(ctx context.Context, source, dest string, amount float64) (TransferReceipt, error)
	Prepare(ctx context.Context, source, dest string, amount float64) (UnsignedTransfer, error)
	// Balances returns the current un-invested cash per vault sub-account
	// plus undistributed wallet cash.
	Balances(ctx context.Context, wallet string) (VaultBalances, error)
}

// SwapService trades one asset for another inside a vault sub-account.
type SwapService interface {
	Swap(ctx context.Context, account, fromAsset, toAsset string, amount float64) (TransferReceipt, error)
}

// YieldService deposits to or withdraws from the external lending venue
// backing the yield vault.
type YieldService interface {
	Deposit(ctx context.Context, account string, amount float64) (TransferReceipt, error)
	Withdraw(ctx context.Context, account string, amount float64) (TransferReceipt, error)
}

// LockManager provides distributed locking, used to serialize rebalance runs
// per wallet.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter applies a sliding-window request limit per key. It guards the
// API surface, not the ledger reader; the reader has its own backoff.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RunStore persists rebalance run history.
type RunStore interface {
	SaveRun(ctx context.Context, run RebalanceRun) error
	GetRun(ctx context.Context, id string) (RebalanceRun, error)
	ListRuns(ctx context.Context, wallet string, opts ListOpts) ([]RebalanceRun, error)
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
