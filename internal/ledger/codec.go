// Package ledger reads vaultbot annotations out of the external transaction
// history: a wire codec for the memo format, a retrying reader over the
// ledger service, and a TTL cache with request coalescing.
package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// WirePrefix is the fixed token that marks a transaction memo as a vaultbot
// annotation. Memos without it are unrelated and skipped.
const WirePrefix = "vault1"

// wireFieldCount is the number of pipe-delimited fields in an encoded
// annotation, including the prefix.
const wireFieldCount = 8

// ErrMalformed marks a memo that claims the wire prefix but fails to parse.
// Malformed records are discarded and counted, never fatal.
var ErrMalformed = errors.New("malformed annotation")

// Encode serializes an annotation into its pipe-delimited memo form:
//
//	vault1|vault|action|assetSymbol|assetId|quantity(8dp)|unitPrice(6dp)|unixMillis
//
// The encoding is bit-compatible for round-trips through Decode.
func Encode(a domain.Annotation) string {
	return strings.Join([]string{
		WirePrefix,
		string(a.Vault),
		string(a.Action),
		a.AssetSymbol,
		a.AssetID,
		strconv.FormatFloat(a.Quantity, 'f', 8, 64),
		strconv.FormatFloat(a.UnitPrice, 'f', 6, 64),
		strconv.FormatInt(a.OccurredAt.UnixMilli(), 10),
	}, "|")
}

// Decode parses a memo string into an Annotation. It returns ErrMalformed
// (wrapped with the offending detail) for any memo that starts with the wire
// prefix but does not conform; memos that do not start with the prefix are
// reported the same way since the caller treats both as skippable.
func Decode(memo string) (domain.Annotation, error) {
	fields := strings.Split(memo, "|")
	if len(fields) < wireFieldCount {
		return domain.Annotation{}, fmt.Errorf("ledger: %d fields: %w", len(fields), ErrMalformed)
	}
	if fields[0] != WirePrefix {
		return domain.Annotation{}, fmt.Errorf("ledger: prefix %q: %w", fields[0], ErrMalformed)
	}

	vault := domain.VaultID(fields[1])
	if !vault.Valid() {
		return domain.Annotation{}, fmt.Errorf("ledger: vault %q: %w", fields[1], ErrMalformed)
	}

	action := domain.AnnotationAction(fields[2])
	if !action.Valid() {
		return domain.Annotation{}, fmt.Errorf("ledger: action %q: %w", fields[2], ErrMalformed)
	}

	quantity, err := strconv.ParseFloat(fields[5], 64)
	if err != nil || quantity < 0 {
		return domain.Annotation{}, fmt.Errorf("ledger: quantity %q: %w", fields[5], ErrMalformed)
	}

	unitPrice, err := strconv.ParseFloat(fields[6], 64)
	if err != nil || unitPrice < 0 {
		return domain.Annotation{}, fmt.Errorf("ledger: unit price %q: %w", fields[6], ErrMalformed)
	}

	millis, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return domain.Annotation{}, fmt.Errorf("ledger: timestamp %q: %w", fields[7], ErrMalformed)
	}

	return domain.Annotation{
		Vault:       vault,
		Action:      action,
		AssetSymbol: fields[3],
		AssetID:     fields[4],
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		OccurredAt:  time.UnixMilli(millis).UTC(),
	}, nil
}
