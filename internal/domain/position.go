package domain

import "time"

// Position is the current holding of one asset within one vault, derived by
// replaying annotations. It lives in memory only and is never the system of
// record: it must always be re-derivable from the ledger.
type Position struct {
	AssetID        string
	AssetSymbol    string
	Vault          VaultID
	Quantity       float64
	CostBasisTotal float64
	OpenedAt       time.Time
}

// EntryPrice returns the weighted-average entry price of the position, or 0
// for an empty position.
func (p Position) EntryPrice() float64 {
	if p.Quantity == 0 {
		return 0
	}
	return p.CostBasisTotal / p.Quantity
}

// ValuedPosition is a Position enriched with a live unit price. When no live
// price is available the current price falls back to the entry price, which
// pins the unrealized PnL for that asset at zero.
type ValuedPosition struct {
	Position
	CurrentPrice float64
	ValueUSD     float64
	PnL          float64
	// PnLPercent is nil when the entry price is zero (undefined).
	PnLPercent *float64
	// PriceStale is true when the valuation fell back to the entry price
	// because the price source had no quote for the asset.
	PriceStale bool
}
