package storage

import (
	"context"
	"time"

	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
)

// ProductID is the storage identifier of a product.
type ProductID uint64

// GlobalID identifies the cross-product summary rows. No product is assigned it.
const GlobalID ProductID = 0

// Storage defines the interface for overview storage backends.
// Implementations: memory (testing), badger (production)
//
// Absent records are returned as (nil, nil), never as errors.
type Storage interface {
	// GetOverview reads the overview stored for (id, anchor, granularity)
	GetOverview(ctx context.Context, id ProductID, anchor time.Time, g period.Granularity) (*overview.Overview, error)

	// PutOverview inserts or overwrites the overview for (id, anchor, granularity)
	PutOverview(ctx context.Context, id ProductID, anchor time.Time, g period.Granularity, o *overview.Overview) error

	// GetProduct reads product metadata, computing LastRefreshAge against the store's clock
	GetProduct(ctx context.Context, name string) (*ProductSummary, error)

	// PutProduct upserts product metadata keyed by name. The refresh time is
	// always the store's own clock; LastRefreshAge and ID on the input are ignored.
	PutProduct(ctx context.Context, p ProductSummary) (ProductID, error)

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// ProductSummary is the per-product metadata record.
type ProductSummary struct {
	ID   ProductID
	Name string

	DatasetCount int

	// Both zero when DatasetCount == 0
	TimeEarliest time.Time
	TimeLatest   time.Time

	// Time since extents were last refreshed, measured by the store's clock at read time
	LastRefreshAge time.Duration
}

// HasTimeRange reports whether the product has any known datasets
func (p *ProductSummary) HasTimeRange() bool {
	return p.DatasetCount > 0 && !p.TimeEarliest.IsZero() && !p.TimeLatest.IsZero()
}

// Stats provides storage health and usage info
type Stats struct {
	// Products with metadata rows
	Products uint64 `json:"products"`

	// Stored overview rows
	Overviews uint64 `json:"overviews"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`
}
