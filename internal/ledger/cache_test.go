package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// spySource counts underlying fetches and can be switched to fail.
type spySource struct {
	fetches atomic.Int32
	fail    atomic.Bool
	delay   time.Duration
	result  []domain.Annotation
}

func (s *spySource) FetchAnnotations(ctx context.Context, account string, vault domain.VaultID, limit int) ([]domain.Annotation, error) {
	s.fetches.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail.Load() {
		return nil, domain.ErrLedgerUnavailable
	}
	return s.result, nil
}

func oneAnnotation() []domain.Annotation {
	return []domain.Annotation{{
		Vault:       domain.VaultGrowth,
		Action:      domain.ActionOpen,
		AssetSymbol: "SOL",
		AssetID:     "sol-mint",
		Quantity:    2,
		UnitPrice:   100,
		OccurredAt:  time.UnixMilli(1000).UTC(),
	}}
}

func TestCacheCoalescesConcurrentFetches(t *testing.T) {
	src := &spySource{result: oneAnnotation(), delay: 50 * time.Millisecond}
	cache := NewCache(src, time.Minute, testLogger())

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.FetchAnnotations(context.Background(), "wallet-1", domain.VaultGrowth, 100)
			assert.NoError(t, err)
			assert.Len(t, got, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.fetches.Load(), "cold key must trigger exactly one fetch")
}

func TestCacheServesFreshEntryWithoutFetch(t *testing.T) {
	src := &spySource{result: oneAnnotation()}
	cache := NewCache(src, time.Minute, testLogger())

	ctx := context.Background()
	_, err := cache.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err)
	_, err = cache.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.fetches.Load())
}

func TestCacheKeysByAccountAndVault(t *testing.T) {
	src := &spySource{result: oneAnnotation()}
	cache := NewCache(src, time.Minute, testLogger())

	ctx := context.Background()
	_, err := cache.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err)
	_, err = cache.FetchAnnotations(ctx, "wallet-1", domain.VaultDegen, 100)
	require.NoError(t, err)
	_, err = cache.FetchAnnotations(ctx, "wallet-2", domain.VaultGrowth, 100)
	require.NoError(t, err)

	assert.Equal(t, int32(3), src.fetches.Load())
}

func TestCacheExpiredEntryRefetches(t *testing.T) {
	src := &spySource{result: oneAnnotation()}
	cache := NewCache(src, 10*time.Millisecond, testLogger())

	ctx := context.Background()
	_, err := cache.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = cache.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.fetches.Load())
}

func TestCacheFallsBackToStaleOnRefreshFailure(t *testing.T) {
	src := &spySource{result: oneAnnotation()}
	cache := NewCache(src, 10*time.Millisecond, testLogger())

	ctx := context.Background()
	first, err := cache.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	src.fail.Store(true)

	stale, err := cache.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err, "stale fallback must absorb the refresh failure")
	assert.Equal(t, first, stale)
}

func TestCachePropagatesFailureWithoutPriorResult(t *testing.T) {
	src := &spySource{}
	src.fail.Store(true)
	cache := NewCache(src, time.Minute, testLogger())

	_, err := cache.FetchAnnotations(context.Background(), "wallet-1", domain.VaultGrowth, 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLedgerUnavailable))
}

func TestCacheInvalidateForcesRefetch(t *testing.T) {
	src := &spySource{result: oneAnnotation()}
	cache := NewCache(src, time.Minute, testLogger())

	ctx := context.Background()
	_, err := cache.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err)

	cache.Invalidate("wallet-1", domain.VaultGrowth)

	_, err = cache.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.fetches.Load())
}

// cancelAwareSource honors caller cancellation during its simulated latency.
type cancelAwareSource struct {
	fetches atomic.Int32
	delay   time.Duration
	result  []domain.Annotation
}

func (s *cancelAwareSource) FetchAnnotations(ctx context.Context, account string, vault domain.VaultID, limit int) ([]domain.Annotation, error) {
	s.fetches.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.result, nil
}

func TestCacheSharedFetchSurvivesCallerCancellation(t *testing.T) {
	src := &cancelAwareSource{delay: 60 * time.Millisecond, result: oneAnnotation()}
	cache := NewCache(src, time.Minute, testLogger())

	firstCtx, cancel := context.WithCancel(context.Background())
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = cache.FetchAnnotations(firstCtx, "wallet-1", domain.VaultGrowth, 100)
	}()
	time.Sleep(10 * time.Millisecond) // the first caller owns the in-flight fetch

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = cache.FetchAnnotations(context.Background(), "wallet-1", domain.VaultGrowth, 100)
	}()
	time.Sleep(10 * time.Millisecond) // both callers are now coalesced
	cancel()
	wg.Wait()

	assert.NoError(t, errs[1], "a waiter must not inherit another caller's cancellation")
	assert.Equal(t, int32(1), src.fetches.Load())
}

func TestCacheBypassedAndCachedRunsAgree(t *testing.T) {
	src := &spySource{result: oneAnnotation()}
	cache := NewCache(src, time.Minute, testLogger())

	ctx := context.Background()
	direct, err := src.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err)
	cached, err := cache.FetchAnnotations(ctx, "wallet-1", domain.VaultGrowth, 100)
	require.NoError(t, err)

	assert.Equal(t, direct, cached)
}
