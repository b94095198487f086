package position

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// Valuer prices reconstructed positions. It consults the price cache first,
// batches the misses through the price source, and writes fresh quotes back.
// A missing quote is a valuation gap, not an error: the position falls back
// to its entry price, which pins its PnL at zero.
type Valuer struct {
	source domain.PriceSource
	cache  domain.PriceCache // optional
	logger *slog.Logger
}

// NewValuer creates a Valuer. cache may be nil, in which case every call goes
// straight to the source.
func NewValuer(source domain.PriceSource, cache domain.PriceCache, logger *slog.Logger) *Valuer {
	return &Valuer{
		source: source,
		cache:  cache,
		logger: logger.With(slog.String("component", "valuer")),
	}
}

// Value enriches positions with current prices, USD value, and PnL. The
// result preserves input order. It never fails for individual missing quotes;
// it returns an error only when the price source itself errors and no cached
// quotes could cover the request.
func (v *Valuer) Value(ctx context.Context, positions []domain.Position) ([]domain.ValuedPosition, error) {
	if len(positions) == 0 {
		return nil, nil
	}

	assetIDs := make([]string, 0, len(positions))
	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		if !seen[p.AssetID] {
			seen[p.AssetID] = true
			assetIDs = append(assetIDs, p.AssetID)
		}
	}

	prices, err := v.lookupPrices(ctx, assetIDs)
	if err != nil {
		return nil, err
	}

	valued := make([]domain.ValuedPosition, 0, len(positions))
	for _, p := range positions {
		vp := domain.ValuedPosition{Position: p}

		current, ok := prices[p.AssetID]
		if !ok {
			// Valuation gap: fall back to entry price.
			current = p.EntryPrice()
			vp.PriceStale = true
			v.logger.DebugContext(ctx, "no live price, using entry price",
				slog.String("asset", p.AssetSymbol),
				slog.String("asset_id", p.AssetID),
			)
		}

		entry := p.EntryPrice()
		vp.CurrentPrice = current
		vp.ValueUSD = p.Quantity * current
		vp.PnL = (current - entry) * p.Quantity
		if entry != 0 {
			pct := (current - entry) / entry * 100
			vp.PnLPercent = &pct
		}
		valued = append(valued, vp)
	}

	return valued, nil
}

// lookupPrices resolves quotes for assetIDs, cache first, then the source for
// the misses. Source results are written back to the cache best-effort.
func (v *Valuer) lookupPrices(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(assetIDs))

	if v.cache != nil {
		cached, err := v.cache.GetPrices(ctx, assetIDs)
		if err != nil {
			v.logger.WarnContext(ctx, "price cache read failed",
				slog.String("error", err.Error()),
			)
		} else {
			for id, price := range cached {
				prices[id] = price
			}
		}
	}

	var misses []string
	for _, id := range assetIDs {
		if _, ok := prices[id]; !ok {
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return prices, nil
	}

	fresh, err := v.source.GetPrices(ctx, misses)
	if err != nil {
		if len(prices) > 0 {
			// Partial coverage from cache beats failing the valuation.
			v.logger.WarnContext(ctx, "price source failed, valuing from cache only",
				slog.Int("missing", len(misses)),
				slog.String("error", err.Error()),
			)
			return prices, nil
		}
		return nil, fmt.Errorf("position: fetch prices: %w", err)
	}

	now := time.Now().UTC()
	for id, price := range fresh {
		prices[id] = price
		if v.cache != nil {
			if cacheErr := v.cache.SetPrice(ctx, id, price, now); cacheErr != nil {
				v.logger.DebugContext(ctx, "price cache write failed",
					slog.String("asset_id", id),
					slog.String("error", cacheErr.Error()),
				)
			}
		}
	}

	return prices, nil
}

// TotalValue sums the USD value of a valued position set.
func TotalValue(positions []domain.ValuedPosition) float64 {
	var total float64
	for _, p := range positions {
		total += p.ValueUSD
	}
	return total
}
