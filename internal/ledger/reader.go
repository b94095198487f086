package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// DefaultPageLimit bounds how many transactions one fetch inspects when the
// caller does not say otherwise.
const DefaultPageLimit = 100

// ReaderConfig tunes the retry/backoff policy of the Reader.
type ReaderConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// failure. The retry budget doubles as the reader's effective timeout.
	MaxRetries int
	// BaseBackoff is the delay before the first retry; it doubles on each
	// subsequent attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps the doubling.
	MaxBackoff time.Duration
	// Jitter is the upper bound of the random delay added to each backoff to
	// avoid thundering-herd retries against a rate-limited ledger.
	Jitter time.Duration
}

// DefaultReaderConfig returns the standard retry policy.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		MaxRetries:  4,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
		Jitter:      250 * time.Millisecond,
	}
}

// Reader extracts annotations from an account's transaction history. Remote
// failures and rate limits are retried with capped exponential backoff plus
// jitter; once the budget is exhausted the error surfaces as
// domain.ErrLedgerUnavailable. Individual memos that fail to parse are
// discarded and counted, never fatal: one bad record must not block the rest.
type Reader struct {
	ledger domain.LedgerService
	cfg    ReaderConfig
	logger *slog.Logger
}

// NewReader creates a Reader over the given ledger service.
func NewReader(ledger domain.LedgerService, cfg ReaderConfig, logger *slog.Logger) *Reader {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultReaderConfig()
	}
	return &Reader{
		ledger: ledger,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ledger_reader")),
	}
}

// FetchAnnotations returns the account's annotations in ascending OccurredAt
// order (ties broken by ledger slot). vault narrows the result to a single
// vault when non-empty; limit bounds the transaction page size and defaults
// to DefaultPageLimit when non-positive.
func (r *Reader) FetchAnnotations(ctx context.Context, account string, vault domain.VaultID, limit int) ([]domain.Annotation, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	var signatures []string
	err := r.withRetry(ctx, "list signatures", func() error {
		var err error
		signatures, err = r.ledger.ListTransactionSignatures(ctx, account, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(signatures) == 0 {
		return nil, nil
	}

	var txs []domain.TransactionRecord
	err = r.withRetry(ctx, "get transactions", func() error {
		var err error
		txs, err = r.ledger.GetParsedTransactions(ctx, signatures)
		return err
	})
	if err != nil {
		return nil, err
	}

	annotations, malformed := r.extract(txs, vault)
	if malformed > 0 {
		r.logger.DebugContext(ctx, "discarded malformed annotations",
			slog.String("account", account),
			slog.Int("count", malformed),
		)
	}

	sort.SliceStable(annotations, func(i, j int) bool {
		if !annotations[i].OccurredAt.Equal(annotations[j].OccurredAt) {
			return annotations[i].OccurredAt.Before(annotations[j].OccurredAt)
		}
		return annotations[i].Sequence < annotations[j].Sequence
	})

	return annotations, nil
}

// extract decodes every memo of every transaction, skipping memos without the
// wire prefix and counting ones that carry it but fail to parse.
func (r *Reader) extract(txs []domain.TransactionRecord, vault domain.VaultID) ([]domain.Annotation, int) {
	var annotations []domain.Annotation
	malformed := 0

	for _, tx := range txs {
		for _, memo := range tx.Memos {
			if !strings.HasPrefix(memo, WirePrefix+"|") {
				continue // unrelated memo
			}
			a, err := Decode(memo)
			if err != nil {
				malformed++
				continue
			}
			a.Sequence = tx.Slot
			a.SourceTxID = tx.Signature
			if vault != "" && a.Vault != vault {
				continue
			}
			annotations = append(annotations, a)
		}
	}

	return annotations, malformed
}

// withRetry runs op with capped exponential backoff and jitter. Cancellation
// is honored between attempts: no retry is started after ctx is done.
func (r *Reader) withRetry(ctx context.Context, what string, op func() error) error {
	backoff := r.cfg.BaseBackoff

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff
			if r.cfg.Jitter > 0 {
				delay += time.Duration(rand.Int63n(int64(r.cfg.Jitter)))
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("ledger: %s: %w", what, ctx.Err())
			case <-time.After(delay):
			}
			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return fmt.Errorf("ledger: %s: %w", what, lastErr)
		}

		r.logger.WarnContext(ctx, "ledger read failed, backing off",
			slog.String("op", what),
			slog.Int("attempt", attempt+1),
			slog.Bool("rate_limited", errors.Is(lastErr, domain.ErrRateLimited)),
			slog.String("error", lastErr.Error()),
		)
	}

	return fmt.Errorf("ledger: %s after %d attempts: %v: %w",
		what, r.cfg.MaxRetries+1, lastErr, domain.ErrLedgerUnavailable)
}

// Compile-time interface check.
var _ domain.AnnotationSource = (*Reader)(nil)
