package position

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// Snapshotter serves the read path: replay every vault's annotation log for
// a wallet and value the resulting positions. The rebalance orchestrator has
// its own load step with per-run semantics; this one backs the API.
type Snapshotter struct {
	annotations domain.AnnotationSource
	valuer      *Valuer
	pageLimit   int
}

// NewSnapshotter creates a Snapshotter. pageLimit bounds the annotation
// fetch per vault account.
func NewSnapshotter(annotations domain.AnnotationSource, valuer *Valuer, pageLimit int) *Snapshotter {
	return &Snapshotter{
		annotations: annotations,
		valuer:      valuer,
		pageLimit:   pageLimit,
	}
}

// Snapshot returns the wallet's current valued positions across all vaults
// plus their total USD value.
func (s *Snapshotter) Snapshot(ctx context.Context, wallet string) ([]domain.ValuedPosition, float64, error) {
	var (
		mu  sync.Mutex
		all []domain.Annotation
	)

	// Keyed by the wallet's ledger address plus a vault filter, the same way
	// the rebalance load path reads, so cache invalidation after a rebalance
	// reaches these entries too.
	g, gctx := errgroup.WithContext(ctx)
	for _, vault := range domain.AllVaults {
		g.Go(func() error {
			anns, err := s.annotations.FetchAnnotations(gctx, wallet, vault, s.pageLimit)
			if err != nil {
				return fmt.Errorf("position: fetch annotations for %s/%s: %w", wallet, vault, err)
			}
			mu.Lock()
			all = append(all, anns...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	valued, err := s.valuer.Value(ctx, Reconstruct(all))
	if err != nil {
		return nil, 0, err
	}
	return valued, TotalValue(valued), nil
}
