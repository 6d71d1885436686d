package summary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nicktill/tinysummary/pkg/index"
	"github.com/nicktill/tinysummary/pkg/metrics"
	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/storage"
)

// ErrUnknownProduct is returned when a product has not been initialized with InitProduct.
var ErrUnknownProduct = errors.New("unknown product (initialised?)")

// DefaultConcurrency is the default number of child periods fetched at once during a rollup.
const DefaultConcurrency = 4

// Listener is called after each successful Update with the key and the new overview.
// The overview must not be modified.
type Listener func(key period.Key, o *overview.Overview)

// Store is the summary cache: it reads, computes and stores period overviews.
type Store struct {
	storage    storage.Storage
	records    index.Records
	summariser index.Summariser

	products    *ProductCache
	compositor  overview.Compositor
	concurrency int
	log         zerolog.Logger
	now         func() time.Time

	flights singleflight.Group

	listenersMu sync.RWMutex
	listeners   []Listener

	lastUpdated atomic.Int64
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithConcurrency bounds concurrent child fetches during rollups. Values below 1 mean sequential.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n < 1 {
			n = 1
		}
		s.concurrency = n
	}
}

// WithProductCacheTTL sets how long product metadata stays cached without invalidation
func WithProductCacheTTL(ttl time.Duration) Option {
	return func(s *Store) { s.products = NewProductCache(s.storage, ttl) }
}

// WithCompositor replaces the overview compositor
func WithCompositor(c overview.Compositor) Option {
	return func(s *Store) { s.compositor = c }
}

// WithClock sets the clock used for LastUpdated
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a summary store
func New(store storage.Storage, records index.Records, summariser index.Summariser, opts ...Option) *Store {
	s := &Store{
		storage:     store,
		records:     records,
		summariser:  summariser,
		products:    NewProductCache(store, DefaultProductCacheTTL),
		compositor:  overview.DefaultCompositor,
		concurrency: DefaultConcurrency,
		log:         zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnUpdate registers a listener
func (s *Store) OnUpdate(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Products returns the store's product metadata cache
func (s *Store) Products() *ProductCache {
	return s.products
}

// Product returns the metadata of an initialized product, or nil.
func (s *Store) Product(ctx context.Context, name string) (*storage.ProductSummary, error) {
	return s.products.Get(ctx, name)
}

// storageID resolves the storage ID of a key. ok is false for uninitialized products.
func (s *Store) storageID(ctx context.Context, key period.Key) (storage.ProductID, *storage.ProductSummary, bool, error) {
	if key.IsGlobal() {
		return storage.GlobalID, nil, true, nil
	}
	p, err := s.products.Get(ctx, key.Product)
	if err != nil {
		return 0, nil, false, err
	}
	if p == nil {
		return 0, nil, false, nil
	}
	return p.ID, p, true, nil
}

// Get returns the stored overview for key without computing anything.
// It returns nil for uninitialized products and for days, which are never stored.
func (s *Store) Get(ctx context.Context, key period.Key) (*overview.Overview, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	anchor, g := period.Resolve(key.Year, key.Month, key.Day)
	if g == period.Day {
		return nil, nil
	}

	id, _, ok, err := s.storageID(ctx, key)
	if err != nil || !ok {
		return nil, err
	}

	o, err := s.storage.GetOverview(ctx, id, anchor, g)
	if err != nil {
		return nil, fmt.Errorf("failed to read overview %s: %w", key, err)
	}
	if o == nil {
		metrics.OverviewCacheMisses.WithLabelValues(g.String()).Inc()
		return nil, nil
	}
	metrics.OverviewCacheHits.WithLabelValues(g.String()).Inc()
	return o, nil
}

// Has reports whether an overview is stored for key
func (s *Store) Has(ctx context.Context, key period.Key) (bool, error) {
	o, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return o != nil, nil
}

// GetOrUpdate returns the stored overview for key, computing and storing it if missing.
// Concurrent calls for the same key share one computation, which keeps running
// when the caller that started it is cancelled.
func (s *Store) GetOrUpdate(ctx context.Context, key period.Key) (*overview.Overview, error) {
	o, err := s.Get(ctx, key)
	if err != nil || o != nil {
		return o, err
	}

	// The computation outlives any one caller; each waits on its own ctx.
	flight := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key.String(), func() (interface{}, error) {
		return s.Update(flight, key, true)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		o = res.Val.(*overview.Overview)
		if res.Shared {
			o = o.Clone()
		}
		return o, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Update recomputes the overview for key, stores it unless pruned, notifies
// listeners and returns it. Any stored value is ignored.
func (s *Store) Update(ctx context.Context, key period.Key, generateMissingChildren bool) (*overview.Overview, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	id, product, ok, err := s.storageID(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, key.Product)
	}

	g := key.Granularity()
	start := time.Now()

	o, err := s.compute(ctx, key, product, generateMissingChildren)
	if err != nil {
		return nil, err
	}

	metrics.OverviewComputations.WithLabelValues(g.String()).Inc()
	metrics.OverviewComputeDuration.WithLabelValues(g.String()).Observe(time.Since(start).Seconds())

	if g != period.Day {
		if err := s.put(ctx, key, id, product, o); err != nil {
			return nil, err
		}
	}

	s.lastUpdated.Store(s.now().UnixNano())
	s.notify(key, o)

	s.log.Debug().
		Str("key", key.String()).
		Int("datasets", o.DatasetCount).
		Dur("took", time.Since(start)).
		Msg("overview updated")

	return o, nil
}

func (s *Store) notify(key period.Key, o *overview.Overview) {
	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(key, o)
	}
}

// ListCompleteProducts returns, sorted, the products that have a stored all-time overview.
func (s *Store) ListCompleteProducts(ctx context.Context) ([]string, error) {
	products, err := s.records.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	var names []string
	for _, p := range products {
		ok, err := s.Has(ctx, period.Key{Product: p.Name})
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// LastUpdated returns the time of the most recent successful Update in this
// process, or the zero time.
func (s *Store) LastUpdated() time.Time {
	n := s.lastUpdated.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// DatasetFootprints returns each dataset footprint of the key's period as a GeoJSON
// feature collection. All-time keys cover the product's known time range.
func (s *Store) DatasetFootprints(ctx context.Context, key period.Key) (*geojson.FeatureCollection, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	_, product, ok, err := s.storageID(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, key.Product)
	}

	r, bounded := key.Range()
	if !bounded {
		r = everything
		if product != nil {
			if !product.HasTimeRange() {
				return geojson.NewFeatureCollection(), nil
			}
			r = period.Range{Start: product.TimeEarliest, End: product.TimeLatest.Add(time.Nanosecond)}
		}
	}

	fc, err := s.summariser.Footprints(ctx, key.Product, r)
	if err != nil {
		return nil, fmt.Errorf("failed to list footprints for %s: %w", key, err)
	}
	return fc, nil
}

// everything is the range used for global all-time queries
var everything = period.Range{
	Start: time.Time{},
	End:   time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC),
}
