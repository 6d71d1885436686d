package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/nicktill/tinysummary/pkg/index"
	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
)

// DefaultGridSize is the grid cell edge in degrees.
const DefaultGridSize = 1.0

// ErrProductNotFound is returned for operations on a product that was never added.
var ErrProductNotFound = errors.New("product not found")

// Index keeps datasets in memory. Data is lost on restart.
// Added datasets become visible to summaries only after RefreshExtents,
// the same way a spatial extents table lags the raw index.
type Index struct {
	mu       sync.RWMutex
	products map[string]*productData
	gridSize float64
	now      func() time.Time
}

type productData struct {
	product index.Product
	pending []index.Dataset
	indexed map[string]index.Dataset
}

// Option configures an Index
type Option func(*Index)

// WithGridSize sets the grid cell edge in degrees.
func WithGridSize(degrees float64) Option {
	return func(i *Index) {
		if degrees > 0 {
			i.gridSize = degrees
		}
	}
}

// WithClock sets the clock used to stamp summaries.
func WithClock(now func() time.Time) Option {
	return func(i *Index) {
		i.now = now
	}
}

// New creates an empty in-memory index
func New(opts ...Option) *Index {
	i := &Index{
		products: make(map[string]*productData),
		gridSize: DefaultGridSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// AddProduct registers a product. Adding an existing product updates its description.
func (i *Index) AddProduct(p index.Product) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.productLocked(p.Name).product = p
}

// Add queues datasets for indexing, registering unknown products.
func (i *Index) Add(datasets ...index.Dataset) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, ds := range datasets {
		pd := i.productLocked(ds.Product)
		pd.pending = append(pd.pending, ds)
	}
}

func (i *Index) productLocked(name string) *productData {
	pd, ok := i.products[name]
	if !ok {
		pd = &productData{
			product: index.Product{Name: name},
			indexed: make(map[string]index.Dataset),
		}
		i.products[name] = pd
	}
	return pd
}

// RefreshExtents moves pending datasets into the indexed set.
// Re-adding a dataset ID replaces it without counting as new.
func (i *Index) RefreshExtents(ctx context.Context, product string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	pd, ok := i.products[product]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrProductNotFound, product)
	}

	added := 0
	for _, ds := range pd.pending {
		if _, exists := pd.indexed[ds.ID]; !exists {
			added++
		}
		pd.indexed[ds.ID] = ds
	}
	pd.pending = nil
	return added, nil
}

// AggregateBounds returns count and time bounds of indexed datasets
func (i *Index) AggregateBounds(ctx context.Context, product string) (index.Bounds, error) {
	if err := ctx.Err(); err != nil {
		return index.Bounds{}, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	pd, ok := i.products[product]
	if !ok {
		return index.Bounds{}, fmt.Errorf("%w: %s", ErrProductNotFound, product)
	}

	var b index.Bounds
	for _, ds := range pd.indexed {
		if b.Count == 0 || ds.Time.Before(b.Earliest) {
			b.Earliest = ds.Time
		}
		if b.Count == 0 || ds.Time.After(b.Latest) {
			b.Latest = ds.Time
		}
		b.Count++
	}
	return b, nil
}

// ListProducts returns products sorted by name
func (i *Index) ListProducts(ctx context.Context) ([]index.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	products := make([]index.Product, 0, len(i.products))
	for _, pd := range i.products {
		products = append(products, pd.product)
	}
	sort.Slice(products, func(a, b int) bool { return products[a].Name < products[b].Name })
	return products, nil
}

// Summarise computes an overview from indexed datasets in r.
// The timeline has one bucket per day.
func (i *Index) Summarise(ctx context.Context, product string, r period.Range) (*overview.Overview, error) {
	datasets, err := i.datasetsIn(ctx, product, r)
	if err != nil {
		return nil, err
	}

	o := overview.Empty(i.now())
	var footprints []orb.Geometry
	var crses []string

	for _, ds := range datasets {
		o.DatasetCount++
		o.SizeBytes += ds.SizeBytes
		o.TimelineDatasetCounts[period.Truncate(ds.Time, period.Day)]++

		if o.TimeRange == nil {
			o.TimeRange = &overview.TimeRange{Earliest: ds.Time, Latest: ds.Time}
		} else {
			if ds.Time.Before(o.TimeRange.Earliest) {
				o.TimeRange.Earliest = ds.Time
			}
			if ds.Time.After(o.TimeRange.Latest) {
				o.TimeRange.Latest = ds.Time
			}
		}

		if ds.Footprint != nil {
			footprints = append(footprints, ds.Footprint)
			o.FootprintCount++
			o.GridDatasetCounts[i.gridCell(ds.Footprint)]++
		}
		if ds.Created.After(o.NewestDatasetCreationTime) {
			o.NewestDatasetCreationTime = ds.Created
		}
		crses = append(crses, ds.CRS)
	}

	if len(footprints) > 0 {
		o.Footprint = overview.UnionPolygons(footprints)
	}
	o.CRSes = overview.NormalizeCRSes(crses)
	return o, nil
}

// Footprints returns one GeoJSON feature per indexed dataset footprint in r
func (i *Index) Footprints(ctx context.Context, product string, r period.Range) (*geojson.FeatureCollection, error) {
	datasets, err := i.datasetsIn(ctx, product, r)
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for _, ds := range datasets {
		if ds.Footprint == nil {
			continue
		}
		f := geojson.NewFeature(ds.Footprint)
		f.Properties["id"] = ds.ID
		f.Properties["product"] = ds.Product
		f.Properties["time"] = ds.Time.UTC().Format(time.RFC3339)
		f.Properties["grid"] = i.gridCell(ds.Footprint)
		fc.Append(f)
	}
	return fc, nil
}

// datasetsIn returns indexed datasets within r ordered by time then ID.
func (i *Index) datasetsIn(ctx context.Context, product string, r period.Range) ([]index.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	var sources []*productData
	if product == "" {
		for _, pd := range i.products {
			sources = append(sources, pd)
		}
	} else {
		pd, ok := i.products[product]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, product)
		}
		sources = append(sources, pd)
	}

	var out []index.Dataset
	for _, pd := range sources {
		for _, ds := range pd.indexed {
			if r.Contains(ds.Time) {
				out = append(out, ds)
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Time.Equal(out[b].Time) {
			return out[a].Time.Before(out[b].Time)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

// gridCell names the grid cell containing the centre of a footprint
func (i *Index) gridCell(g orb.Geometry) string {
	c := g.Bound().Center()
	x := int(math.Floor(c[0] / i.gridSize))
	y := int(math.Floor(c[1] / i.gridSize))
	return fmt.Sprintf("%d_%d", x, y)
}
