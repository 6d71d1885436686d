package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nicktill/tinysummary/pkg/metrics"
	"github.com/nicktill/tinysummary/pkg/storage"
)

// DefaultProductCacheTTL bounds how long product metadata is served from memory
// when nothing invalidates it.
const DefaultProductCacheTTL = 5 * time.Minute

// ProductCache memoizes product metadata lookups against storage.
// Entries are dropped on Invalidate, which must follow every metadata write.
//
// Only found products are cached. LastRefreshAge on a cached entry is the age at
// lookup time; staleness decisions read storage directly.
type ProductCache struct {
	store storage.Storage
	items *cache.Cache
}

// NewProductCache creates a product cache in front of store
func NewProductCache(store storage.Storage, ttl time.Duration) *ProductCache {
	if ttl <= 0 {
		ttl = DefaultProductCacheTTL
	}
	return &ProductCache{
		store: store,
		items: cache.New(ttl, 2*ttl),
	}
}

// Get returns the product's metadata, or nil if the product was never initialized.
func (c *ProductCache) Get(ctx context.Context, name string) (*storage.ProductSummary, error) {
	if v, ok := c.items.Get(name); ok {
		metrics.ProductCacheHits.Inc()
		p := v.(storage.ProductSummary)
		return &p, nil
	}
	metrics.ProductCacheMisses.Inc()

	p, err := c.store.GetProduct(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read product %q: %w", name, err)
	}
	if p == nil {
		return nil, nil
	}
	c.items.SetDefault(name, *p)
	return p, nil
}

// Invalidate drops any cached entry for name
func (c *ProductCache) Invalidate(name string) {
	metrics.ProductCacheInvalidations.Inc()
	c.items.Delete(name)
}

// Clear drops every cached entry
func (c *ProductCache) Clear() {
	c.items.Flush()
}

// Len returns the number of cached entries
func (c *ProductCache) Len() int {
	return c.items.ItemCount()
}
