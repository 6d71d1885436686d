/*
Package storage provides the pluggable persistence abstraction for period overviews
and per-product metadata.

# Storage Interface

Two backends implement the Storage interface:
  - memory: In-memory storage for testing and ephemeral runs
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

	type Storage interface {
	    GetOverview(ctx, id, anchor, granularity) (*overview.Overview, error)
	    PutOverview(ctx, id, anchor, granularity, o) error
	    GetProduct(ctx, name) (*ProductSummary, error)
	    PutProduct(ctx, summary) (ProductID, error)
	    Stats(ctx) (*Stats, error)
	    Close() error
	}

# Keys

Overviews are keyed by (ProductID, anchor date, granularity). The anchor date comes
from period.Resolve: unset components default to 1900-01-01, so the all-time row of
a product is anchored at 1900-01-01 with granularity "all". Cross-product rows use
GlobalID, which is never assigned to a product.

Day overviews are never written; they are cheap to recompute.

# Writes

Both writes are upserts. Concurrent writers of the same key converge to the last
writer's value: every write carries a complete record, so there are no merged or
torn rows.

PutProduct stamps the refresh time with the store's own clock rather than one the
caller supplies, and GetProduct computes LastRefreshAge against that same clock.
Ages stay comparable when callers run on different hosts.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	id, err := store.PutProduct(ctx, storage.ProductSummary{Name: "ls8", DatasetCount: 5, ...})
	anchor, g := period.Resolve(2021, 0, 0)
	err = store.PutOverview(ctx, id, anchor, g, yearOverview)
*/
package storage
