package domain

import (
	"fmt"
	"math"
	"time"
)

// AllocationSumTolerance is the maximum deviation from 100 that a target
// allocation's percentages may sum to and still be accepted.
const AllocationSumTolerance = 0.01

// Allocation is a target percentage-of-total-value vector across the four
// vaults. It is produced once per rebalance run (by the advisor or the
// deterministic fallback) and consumed once.
type Allocation struct {
	Reserve float64 `json:"reserve"`
	Yield   float64 `json:"yield"`
	Growth  float64 `json:"growth"`
	Degen   float64 `json:"degen"`
}

// Percent returns the target percentage for the given vault.
func (a Allocation) Percent(v VaultID) float64 {
	switch v {
	case VaultReserve:
		return a.Reserve
	case VaultYield:
		return a.Yield
	case VaultGrowth:
		return a.Growth
	case VaultDegen:
		return a.Degen
	}
	return 0
}

// Sum returns the total of all four percentages.
func (a Allocation) Sum() float64 {
	return a.Reserve + a.Yield + a.Growth + a.Degen
}

// Validate checks that every percentage is non-negative and that the vector
// sums to 100 within AllocationSumTolerance.
func (a Allocation) Validate() error {
	for _, v := range AllVaults {
		if a.Percent(v) < 0 {
			return fmt.Errorf("allocation: negative percentage for %s: %w", v, ErrInvalidAllocation)
		}
	}
	if math.Abs(a.Sum()-100) > AllocationSumTolerance {
		return fmt.Errorf("allocation: percentages sum to %.4f, want 100: %w", a.Sum(), ErrInvalidAllocation)
	}
	return nil
}

// TransferDirection indicates whether a planned transfer funds a vault or
// drains its excess.
type TransferDirection string

const (
	TransferIn  TransferDirection = "in"
	TransferOut TransferDirection = "out"
)

// TransferPlanEntry is one balance movement in a rebalance plan. Entries are
// ephemeral: they are generated by the allocation planner, consumed by the
// orchestrator, and discarded after execution — once the transfer's
// annotation is written, the ledger itself is the record.
type TransferPlanEntry struct {
	Vault         VaultID           `json:"vault"`
	Direction     TransferDirection `json:"direction"`
	Amount        float64           `json:"amount"`
	SourceAccount string            `json:"source_account"`
	DestAccount   string            `json:"dest_account"`
}

// TransferReceipt is the outcome of executing a single transfer or swap
// through an external primitive.
type TransferReceipt struct {
	Success     bool   `json:"success"`
	ReferenceID string `json:"reference_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// UnsignedTransfer is the alternate execution mode: instead of submitting the
// transfer, the primitive returns an opaque payload for external signing.
type UnsignedTransfer struct {
	Payload       []byte  `json:"payload"`
	SourceAccount string  `json:"source_account"`
	DestAccount   string  `json:"dest_account"`
	Amount        float64 `json:"amount"`
}

// TransferOutcome pairs a plan entry with its execution result.
type TransferOutcome struct {
	Entry    TransferPlanEntry `json:"entry"`
	Receipt  TransferReceipt   `json:"receipt"`
	Unsigned *UnsignedTransfer `json:"unsigned,omitempty"`
}

// RebalanceStatus classifies the overall result of a run.
type RebalanceStatus string

const (
	// RebalanceSucceeded means every transfer and every vault strategy
	// completed without error.
	RebalanceSucceeded RebalanceStatus = "succeeded"
	// RebalancePartial means a plan was produced and executed but one or
	// more vaults recorded an error.
	RebalancePartial RebalanceStatus = "partial"
	// RebalanceFailed means no plan could be produced at all.
	RebalanceFailed RebalanceStatus = "failed"
)

// VaultOutcome records the per-vault strategy execution result. A failed
// vault never aborts its siblings; the error lands here instead.
type VaultOutcome struct {
	Vault       VaultID `json:"vault"`
	TargetValue float64 `json:"target_value"`
	Error       string  `json:"error,omitempty"`
}

// AllocationSource records where a run's target allocation came from.
type AllocationSource string

const (
	AllocationFromAdvisor  AllocationSource = "advisor"
	AllocationFromFallback AllocationSource = "fallback"
)

// RebalanceRun is the full structured result of one rebalance. It
// distinguishes "fully succeeded", "partially succeeded with per-vault
// errors", and "failed to produce any plan"; partial failure is reported, not
// raised.
type RebalanceRun struct {
	ID               string            `json:"id"`
	Wallet           string            `json:"wallet"`
	RiskTier         RiskTier          `json:"risk_tier"`
	Status           RebalanceStatus   `json:"status"`
	Allocation       Allocation        `json:"allocation"`
	AllocationSource AllocationSource  `json:"allocation_source"`
	TotalValue       float64           `json:"total_value"`
	DryRun           bool              `json:"dry_run"`
	Transfers        []TransferOutcome `json:"transfers"`
	Vaults           []VaultOutcome    `json:"vaults"`
	Errors           []string          `json:"errors,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
}

// ListOpts carries standard pagination parameters for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}
