package allocation

import "github.com/mvtreasury/vaultbot/internal/domain"

// fallbackTable holds the fixed allocations used when the advisor cannot be
// reached. Having some allocation outranks having the most sophisticated one.
var fallbackTable = map[domain.RiskTier]domain.Allocation{
	domain.RiskConservative: {Reserve: 40, Yield: 40, Growth: 15, Degen: 5},
	domain.RiskBalanced:     {Reserve: 25, Yield: 35, Growth: 30, Degen: 10},
	domain.RiskAggressive:   {Reserve: 10, Yield: 25, Growth: 40, Degen: 25},
}

// Fallback returns the deterministic allocation for a risk tier. Unknown
// tiers resolve to the balanced profile.
func Fallback(tier domain.RiskTier) domain.Allocation {
	if a, ok := fallbackTable[tier]; ok {
		return a
	}
	return fallbackTable[domain.RiskBalanced]
}
