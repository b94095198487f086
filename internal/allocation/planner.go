// Package allocation turns a target percentage vector into an ordered
// transfer plan and supplies the deterministic fallback allocations used when
// the advisor is unavailable.
package allocation

import (
	"fmt"
	"math"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// DefaultDeadband is the minimum USD difference below which no transfer is
// generated, avoiding churn on noise-level rebalances.
const DefaultDeadband = 1.0

// Plan computes the transfers needed to converge the wallet's vault balances
// toward the target allocation of totalValue.
//
// For each vault, target = totalValue * percent / 100 and diff = target -
// current. Differences within the deadband produce no entry. Excess routes to
// the reserve vault (the designated liquidity sink); shortfalls are funded
// from the reserve — except when the reserve itself is empty and un-invested
// cash sits directly in the wallet, the first-deposit bootstrap case, where
// the wallet is the source instead.
//
// Entries are ordered deterministically: all outflows (vault → reserve)
// before all inflows (reserve → vault), so the reserve is replenished before
// it is drawn down within the same run.
func Plan(wallet string, totalValue float64, balances domain.VaultBalances, target domain.Allocation, deadband float64) ([]domain.TransferPlanEntry, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if totalValue < 0 {
		return nil, fmt.Errorf("allocation: negative total value %.2f", totalValue)
	}
	if deadband < 0 {
		deadband = DefaultDeadband
	}

	reserveAccount := domain.VaultAccount(wallet, domain.VaultReserve)
	reserveEmpty := balances.Vaults[domain.VaultReserve] <= 0
	bootstrapFromWallet := reserveEmpty && balances.WalletCash > 0

	var outflows, inflows []domain.TransferPlanEntry

	for _, vault := range domain.AllVaults {
		targetValue := totalValue * target.Percent(vault) / 100
		diff := targetValue - balances.Vaults[vault]
		if math.Abs(diff) <= deadband {
			continue
		}

		if diff < 0 {
			// Excess funds drain toward the reserve. The reserve itself is
			// the sink; its excess stays put.
			if vault == domain.VaultReserve {
				continue
			}
			outflows = append(outflows, domain.TransferPlanEntry{
				Vault:         vault,
				Direction:     domain.TransferOut,
				Amount:        -diff,
				SourceAccount: domain.VaultAccount(wallet, vault),
				DestAccount:   reserveAccount,
			})
			continue
		}

		source := reserveAccount
		if bootstrapFromWallet {
			source = wallet
		} else if vault == domain.VaultReserve {
			// Funding the reserve from itself is a no-op; sibling outflows
			// replenish it instead.
			continue
		}
		inflows = append(inflows, domain.TransferPlanEntry{
			Vault:         vault,
			Direction:     domain.TransferIn,
			Amount:        diff,
			SourceAccount: source,
			DestAccount:   domain.VaultAccount(wallet, vault),
		})
	}

	return append(outflows, inflows...), nil
}

// TargetValues expands an allocation into per-vault USD targets.
func TargetValues(totalValue float64, target domain.Allocation) map[domain.VaultID]float64 {
	targets := make(map[domain.VaultID]float64, len(domain.AllVaults))
	for _, vault := range domain.AllVaults {
		targets[vault] = totalValue * target.Percent(vault) / 100
	}
	return targets
}
