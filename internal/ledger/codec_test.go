package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := domain.Annotation{
		Vault:       domain.VaultGrowth,
		Action:      domain.ActionOpen,
		AssetSymbol: "SOL",
		AssetID:     "So11111111111111111111111111111111111111112",
		Quantity:    2.5,
		UnitPrice:   101.25,
		OccurredAt:  time.UnixMilli(1700000000123).UTC(),
	}

	memo := Encode(orig)
	assert.Equal(t,
		"vault1|growth|open|SOL|So11111111111111111111111111111111111111112|2.50000000|101.250000|1700000000123",
		memo,
	)

	decoded, err := Decode(memo)
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)

	// A second pass through the codec must be byte-identical.
	assert.Equal(t, memo, Encode(decoded))
}

func TestEncodeFixedPrecision(t *testing.T) {
	a := domain.Annotation{
		Vault:       domain.VaultYield,
		Action:      domain.ActionAdd,
		AssetSymbol: "USDC",
		AssetID:     "usdc-mint",
		Quantity:    1,
		UnitPrice:   1,
		OccurredAt:  time.UnixMilli(1),
	}
	assert.Equal(t, "vault1|yield|add|USDC|usdc-mint|1.00000000|1.000000|1", Encode(a))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":             "",
		"wrong prefix":      "other|growth|open|SOL|mint|1.0|1.0|1700000000000",
		"too few fields":    "vault1|growth|open|SOL|mint|1.0|1.0",
		"unknown vault":     "vault1|mystery|open|SOL|mint|1.0|1.0|1700000000000",
		"unknown action":    "vault1|growth|merge|SOL|mint|1.0|1.0|1700000000000",
		"bad quantity":      "vault1|growth|open|SOL|mint|abc|1.0|1700000000000",
		"negative quantity": "vault1|growth|open|SOL|mint|-1.0|1.0|1700000000000",
		"bad price":         "vault1|growth|open|SOL|mint|1.0|abc|1700000000000",
		"bad timestamp":     "vault1|growth|open|SOL|mint|1.0|1.0|not-a-time",
	}

	for name, memo := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(memo)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeToleratesExtraFields(t *testing.T) {
	// Later schema revisions may append fields; the first eight keep their
	// meaning.
	memo := "vault1|degen|reduce|BONK|bonk-mint|100.00000000|0.000020|1700000000000|future-field"
	a, err := Decode(memo)
	require.NoError(t, err)
	assert.Equal(t, domain.VaultDegen, a.Vault)
	assert.Equal(t, domain.ActionReduce, a.Action)
	assert.InDelta(t, 100.0, a.Quantity, 1e-12)
	assert.InDelta(t, 0.00002, a.UnitPrice, 1e-12)
}
