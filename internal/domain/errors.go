package domain

import "errors"

var (
	// ErrLedgerUnavailable is returned by the ledger reader after its retry
	// budget is exhausted. It is never fatal to a whole rebalance: the
	// annotation cache absorbs it whenever a previous result exists.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrRateLimited is surfaced by platform clients when the remote service
	// throttles the caller; the reader treats it as retryable.
	ErrRateLimited = errors.New("rate limited")

	// ErrInsufficientBalance is raised by a transfer or swap primitive and
	// recorded per vault without aborting sibling vaults.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAdvisorUnavailable triggers the deterministic fallback allocation.
	ErrAdvisorUnavailable = errors.New("advisor unavailable")

	// ErrInvalidAllocation marks a target allocation whose percentages do not
	// sum to 100 within tolerance or contain negative entries.
	ErrInvalidAllocation = errors.New("invalid allocation")

	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
	ErrNoPlan   = errors.New("no rebalance plan could be produced")
)
