package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

func annotation(action domain.AnnotationAction, qty, price float64, millis int64) domain.Annotation {
	return domain.Annotation{
		Vault:       domain.VaultGrowth,
		Action:      action,
		AssetSymbol: "SOL",
		AssetID:     "sol-mint",
		Quantity:    qty,
		UnitPrice:   price,
		OccurredAt:  time.UnixMilli(millis).UTC(),
	}
}

func TestReconstructOpenThenAdd(t *testing.T) {
	positions := Reconstruct([]domain.Annotation{
		annotation(domain.ActionOpen, 2, 100, 1000),
		annotation(domain.ActionAdd, 1, 130, 2000),
	})

	require.Len(t, positions, 1)
	p := positions[0]
	assert.InDelta(t, 3, p.Quantity, 1e-12)
	assert.InDelta(t, 330, p.CostBasisTotal, 1e-12)
	assert.InDelta(t, 110, p.EntryPrice(), 1e-12)
	assert.Equal(t, time.UnixMilli(1000).UTC(), p.OpenedAt)
}

func TestReconstructPartialReducePreservesEntryPrice(t *testing.T) {
	positions := Reconstruct([]domain.Annotation{
		annotation(domain.ActionOpen, 10, 1.0, 1000),
		annotation(domain.ActionReduce, 4, 2.0, 2000),
	})

	require.Len(t, positions, 1)
	p := positions[0]
	assert.InDelta(t, 6, p.Quantity, 1e-12)
	assert.InDelta(t, 6.0, p.CostBasisTotal, 1e-12)
	// Cost basis per unit is unchanged by a partial reduce.
	assert.InDelta(t, 1.0, p.EntryPrice(), 1e-12)
}

func TestReconstructCloseIsAuthoritative(t *testing.T) {
	positions := Reconstruct([]domain.Annotation{
		annotation(domain.ActionOpen, 10, 1.0, 1000),
		annotation(domain.ActionReduce, 3, 1.5, 2000),
		annotation(domain.ActionClose, 999, 2.0, 3000), // quantity field ignored
	})

	assert.Empty(t, positions)
}

func TestReconstructReduceClampsAtZero(t *testing.T) {
	positions := Reconstruct([]domain.Annotation{
		annotation(domain.ActionOpen, 5, 1.0, 1000),
		annotation(domain.ActionReduce, 50, 1.0, 2000),
	})

	assert.Empty(t, positions, "overstated reduce drains the position, never negative")
}

func TestReconstructImplicitOpen(t *testing.T) {
	// An add with no prior open must not raise; it creates the position.
	positions := Reconstruct([]domain.Annotation{
		annotation(domain.ActionAdd, 3, 2.0, 1000),
	})

	require.Len(t, positions, 1)
	assert.InDelta(t, 3, positions[0].Quantity, 1e-12)
	assert.InDelta(t, 6.0, positions[0].CostBasisTotal, 1e-12)
}

func TestReconstructReduceOnUnknownAssetIsNoop(t *testing.T) {
	positions := Reconstruct([]domain.Annotation{
		annotation(domain.ActionReduce, 3, 2.0, 1000),
	})
	assert.Empty(t, positions)
}

func TestReconstructReopenAfterClose(t *testing.T) {
	positions := Reconstruct([]domain.Annotation{
		annotation(domain.ActionOpen, 2, 100, 1000),
		annotation(domain.ActionClose, 2, 120, 2000),
		annotation(domain.ActionOpen, 1, 150, 3000),
	})

	require.Len(t, positions, 1)
	assert.InDelta(t, 1, positions[0].Quantity, 1e-12)
	assert.InDelta(t, 150, positions[0].EntryPrice(), 1e-12)
}

func TestReconstructIsIdempotent(t *testing.T) {
	log := []domain.Annotation{
		annotation(domain.ActionOpen, 10, 1.0, 1000),
		annotation(domain.ActionAdd, 5, 2.0, 2000),
		annotation(domain.ActionReduce, 3, 3.0, 3000),
	}

	first := Reconstruct(log)
	second := Reconstruct(log)
	assert.Equal(t, first, second)
}

func TestReconstructSortsOutOfOrderInput(t *testing.T) {
	// The reduce arrives first in the slice but later by timestamp; replay
	// must still apply it after the open.
	positions := Reconstruct([]domain.Annotation{
		annotation(domain.ActionReduce, 4, 2.0, 2000),
		annotation(domain.ActionOpen, 10, 1.0, 1000),
	})

	require.Len(t, positions, 1)
	assert.InDelta(t, 6, positions[0].Quantity, 1e-12)
}

func TestReconstructSeparatesVaults(t *testing.T) {
	growth := annotation(domain.ActionOpen, 2, 100, 1000)
	degen := annotation(domain.ActionOpen, 5, 100, 2000)
	degen.Vault = domain.VaultDegen

	positions := Reconstruct([]domain.Annotation{growth, degen})
	require.Len(t, positions, 2)
	assert.NotEqual(t, positions[0].Vault, positions[1].Vault)
}

func TestReconstructFiltersDust(t *testing.T) {
	positions := Reconstruct([]domain.Annotation{
		annotation(domain.ActionOpen, 1, 1.0, 1000),
		annotation(domain.ActionReduce, 1-1e-12, 1.0, 2000),
	})
	assert.Empty(t, positions)
}
