package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// DefaultCacheTTL is how long a fetched annotation list stays fresh. Position
// state changes at human timescales, so a short TTL is plenty.
const DefaultCacheTTL = time.Minute

// sharedFetchTimeout bounds a coalesced fetch. It must comfortably exceed the
// reader's full retry budget so the timeout never races the backoff.
const sharedFetchTimeout = 30 * time.Second

// Cache memoizes annotation fetches per (account, vault) key. It is purely a
// performance optimization, never a correctness dependency: dropping it and
// re-fetching must always yield the same positions.
//
// Two policies beyond plain memoization:
//   - request coalescing: concurrent callers hitting the same cold key share
//     a single underlying fetch via singleflight;
//   - stale fallback: when a refresh fails but a previous result exists, the
//     stale result is returned with a degradation warning instead of the
//     error. Slightly-stale position data beats a hard failure.
type Cache struct {
	source domain.AnnotationSource
	ttl    time.Duration
	logger *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	annotations []domain.Annotation
	fetchedAt   time.Time
}

// NewCache wraps source with a TTL cache. A non-positive ttl falls back to
// DefaultCacheTTL.
func NewCache(source domain.AnnotationSource, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		source:  source,
		ttl:     ttl,
		logger:  logger.With(slog.String("component", "annotation_cache")),
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(account string, vault domain.VaultID) string {
	return account + "|" + string(vault)
}

// FetchAnnotations returns the cached annotation list for (account, vault),
// fetching through to the underlying source on a cold or expired entry.
func (c *Cache) FetchAnnotations(ctx context.Context, account string, vault domain.VaultID, limit int) ([]domain.Annotation, error) {
	key := cacheKey(account, vault)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.annotations, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		// Every coalesced waiter shares this one fetch, so it must not die
		// with whichever caller happened to start it. Detach from the
		// caller's cancellation and bound the fetch on its own.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()

		annotations, err := c.source.FetchAnnotations(fetchCtx, account, vault, limit)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{annotations: annotations, fetchedAt: time.Now()}
		c.mu.Unlock()
		return annotations, nil
	})

	if err != nil {
		// Serve the last good result if we have one, however stale.
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			c.logger.WarnContext(ctx, "annotation refresh failed, serving stale entry",
				slog.String("account", account),
				slog.String("vault", string(vault)),
				slog.Duration("age", time.Since(entry.fetchedAt)),
				slog.String("error", err.Error()),
			)
			return entry.annotations, nil
		}
		return nil, fmt.Errorf("ledger: cache fetch %s: %w", key, err)
	}

	return result.([]domain.Annotation), nil
}

// Invalidate drops the cached entry for (account, vault), forcing the next
// read through to the source. Called after a rebalance writes new
// annotations.
func (c *Cache) Invalidate(account string, vault domain.VaultID) {
	c.mu.Lock()
	delete(c.entries, cacheKey(account, vault))
	c.mu.Unlock()
}

// InvalidateAccount drops every vault entry for the account.
func (c *Cache) InvalidateAccount(account string) {
	c.mu.Lock()
	for _, v := range append([]domain.VaultID{""}, domain.AllVaults...) {
		delete(c.entries, cacheKey(account, v))
	}
	c.mu.Unlock()
}

// Compile-time interface check.
var _ domain.AnnotationSource = (*Cache)(nil)
