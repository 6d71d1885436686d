package index

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
)

// Product describes one named category of datasets.
type Product struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Dataset is one indexed, time-stamped, geolocated record.
type Dataset struct {
	ID        string       `json:"id" validate:"required"`
	Product   string       `json:"product" validate:"required"`
	Time      time.Time    `json:"time" validate:"required"`
	Footprint orb.Geometry `json:"-"`
	SizeBytes int64        `json:"size_bytes" validate:"gte=0"`
	Created   time.Time    `json:"created"`
	CRS       string       `json:"crs,omitempty"`
}

// Bounds are aggregate statistics over a product's indexed datasets.
// Earliest and Latest are zero when Count is 0.
type Bounds struct {
	Count    int
	Earliest time.Time
	Latest   time.Time
}

// Records is the raw-record collaborator.
type Records interface {
	// RefreshExtents (re)computes the spatial extents of a product's datasets
	// and returns how many datasets were newly indexed.
	RefreshExtents(ctx context.Context, product string) (int, error)

	// AggregateBounds returns count and time bounds over the indexed datasets.
	AggregateBounds(ctx context.Context, product string) (Bounds, error)

	// ListProducts returns every known product.
	ListProducts(ctx context.Context) ([]Product, error)
}

// Summariser computes overviews directly from raw records.
type Summariser interface {
	// Summarise computes an overview for the datasets in r. An empty product
	// covers all products.
	Summarise(ctx context.Context, product string, r period.Range) (*overview.Overview, error)

	// Footprints returns each dataset footprint in r as a GeoJSON feature.
	Footprints(ctx context.Context, product string, r period.Range) (*geojson.FeatureCollection, error)
}
