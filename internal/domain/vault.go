// Package domain defines the core types, ports, and sentinel errors shared by
// every layer of the vaultbot treasury manager.
package domain

// VaultID identifies one of the four fixed risk-tier sub-accounts of a
// treasury.
type VaultID string

const (
	VaultReserve VaultID = "reserve"
	VaultYield   VaultID = "yield"
	VaultGrowth  VaultID = "growth"
	VaultDegen   VaultID = "degen"
)

// AllVaults lists every vault in canonical order. Iteration over vaults must
// use this slice rather than ranging a map so that plans and reports are
// deterministic.
var AllVaults = []VaultID{VaultReserve, VaultYield, VaultGrowth, VaultDegen}

// Valid reports whether v is one of the four known vault identifiers.
func (v VaultID) Valid() bool {
	switch v {
	case VaultReserve, VaultYield, VaultGrowth, VaultDegen:
		return true
	}
	return false
}

// VaultAccount returns the privacy-service sub-account identifier for one
// vault of a wallet.
func VaultAccount(wallet string, v VaultID) string {
	return wallet + "/" + string(v)
}

// RiskTier selects which advisor profile (or fallback table) drives the
// target allocation.
type RiskTier string

const (
	RiskConservative RiskTier = "conservative"
	RiskBalanced     RiskTier = "balanced"
	RiskAggressive   RiskTier = "aggressive"
)

// VaultBalances is a snapshot of the un-invested cash held by each vault
// sub-account plus any cash sitting directly in the owning wallet that has
// not yet been distributed into vaults.
type VaultBalances struct {
	Vaults     map[VaultID]float64
	WalletCash float64
}

// Total returns the sum of all vault balances plus wallet cash.
func (b VaultBalances) Total() float64 {
	total := b.WalletCash
	for _, amt := range b.Vaults {
		total += amt
	}
	return total
}
