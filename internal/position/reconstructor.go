// Package position rebuilds per-vault holdings by replaying the annotation
// log and enriches them with live prices.
package position

import (
	"sort"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// DustEpsilon filters rounding dust: a replayed position whose quantity ends
// at or below this threshold is considered closed.
const DustEpsilon = 1e-9

// accumulator carries the running totals for one (vault, asset) pair during
// replay.
type accumulator struct {
	symbol   string
	vault    domain.VaultID
	quantity float64
	cost     float64
	first    domain.Annotation
}

// Reconstruct replays annotations into the current position set. It is a pure
// function: no I/O, no hidden state, safe to run repeatedly, and reconstructing
// twice from the same log yields identical results.
//
// Replay rules, applied in (OccurredAt, Sequence) order:
//   - open/add increment quantity and cost basis by quantity*unitPrice;
//   - reduce scales both down proportionally, preserving the weighted-average
//     entry price and clamping at zero when the reduce overstates holdings;
//   - close zeroes both unconditionally — close is authoritative even after a
//     malformed reduce;
//   - any action on an asset with no prior open creates the accumulator
//     implicitly rather than failing.
func Reconstruct(annotations []domain.Annotation) []domain.Position {
	ordered := make([]domain.Annotation, len(annotations))
	copy(ordered, annotations)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].OccurredAt.Equal(ordered[j].OccurredAt) {
			return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
		}
		return ordered[i].Sequence < ordered[j].Sequence
	})

	accs := make(map[string]*accumulator)
	var keys []string // insertion order, for deterministic output

	for _, a := range ordered {
		key := string(a.Vault) + "|" + a.AssetID
		acc, ok := accs[key]
		if !ok {
			acc = &accumulator{symbol: a.AssetSymbol, vault: a.Vault, first: a}
			accs[key] = acc
			keys = append(keys, key)
		}

		switch a.Action {
		case domain.ActionOpen, domain.ActionAdd:
			acc.quantity += a.Quantity
			acc.cost += a.Quantity * a.UnitPrice
		case domain.ActionReduce:
			if acc.quantity <= 0 {
				continue // nothing to reduce; clamp, never go negative
			}
			fraction := a.Quantity / acc.quantity
			if fraction > 1 {
				fraction = 1
			}
			acc.quantity *= 1 - fraction
			acc.cost *= 1 - fraction
		case domain.ActionClose:
			// Close is authoritative regardless of recorded quantity.
			acc.quantity = 0
			acc.cost = 0
		}
	}

	positions := make([]domain.Position, 0, len(accs))
	for _, key := range keys {
		acc := accs[key]
		if acc.quantity <= DustEpsilon {
			continue
		}
		positions = append(positions, domain.Position{
			AssetID:        acc.first.AssetID,
			AssetSymbol:    acc.symbol,
			Vault:          acc.vault,
			Quantity:       acc.quantity,
			CostBasisTotal: acc.cost,
			OpenedAt:       acc.first.OccurredAt,
		})
	}
	return positions
}
