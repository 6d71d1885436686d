package summary

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinysummary/pkg/index"
	memindex "github.com/nicktill/tinysummary/pkg/index/memory"
	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/storage"
	memstore "github.com/nicktill/tinysummary/pkg/storage/memory"
)

// countingRecords counts extent refreshes
type countingRecords struct {
	*memindex.Index
	refreshes atomic.Int32
}

func (c *countingRecords) RefreshExtents(ctx context.Context, product string) (int, error) {
	c.refreshes.Add(1)
	return c.Index.RefreshExtents(ctx, product)
}

type fixture struct {
	idx     *memindex.Index
	records *countingRecords
	storage *memstore.Storage
	store   *Store
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	idx := memindex.New()
	records := &countingRecords{Index: idx}
	st := memstore.New()
	return &fixture{
		idx:     idx,
		records: records,
		storage: st,
		store:   New(st, records, idx, opts...),
	}
}

func (f *fixture) init(t *testing.T, products ...string) {
	t.Helper()
	for _, p := range products {
		_, _, err := f.store.InitProduct(context.Background(), p, 0)
		require.NoError(t, err)
	}
}

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func square(x, y float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y}}}
}

func ds(id, product string, t time.Time) index.Dataset {
	return index.Dataset{ID: id, Product: product, Time: t, Footprint: square(140, -30), SizeBytes: 100, CRS: "EPSG:4326"}
}

// ls8 has 3 datasets in January 2021 and 2 in March 2021
func addLS8(idx *memindex.Index) {
	idx.Add(
		ds("a", "ls8", at(2021, 1, 5)),
		ds("b", "ls8", at(2021, 1, 10)),
		ds("c", "ls8", at(2021, 1, 28)),
		ds("d", "ls8", at(2021, 3, 2)),
		ds("e", "ls8", at(2021, 3, 20)),
	)
}

func TestStore_EndToEndYear(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.init(t, "ls8")
	ctx := context.Background()

	o, err := f.store.GetOrUpdate(ctx, period.Key{Product: "ls8", Year: 2021})
	require.NoError(t, err)

	require.Equal(t, 5, o.DatasetCount)
	require.Equal(t, &overview.TimeRange{Earliest: at(2021, 1, 5), Latest: at(2021, 3, 20)}, o.TimeRange)
	require.Equal(t, period.Month, o.TimelinePeriod)
	require.Equal(t, map[time.Time]int{at(2021, 1, 1): 3, at(2021, 3, 1): 2}, o.TimelineDatasetCounts)

	// The year is now cached
	cached, err := f.store.Get(ctx, period.Key{Product: "ls8", Year: 2021})
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Equal(t, 5, cached.DatasetCount)

	// February is empty but inside the product's range, so it is stored
	feb, err := f.store.Get(ctx, period.Key{Product: "ls8", Year: 2021, Month: 2})
	require.NoError(t, err)
	require.NotNil(t, feb)
	require.Equal(t, 0, feb.DatasetCount)

	// June is empty and after the latest dataset
	june, err := f.store.Get(ctx, period.Key{Product: "ls8", Year: 2021, Month: 6})
	require.NoError(t, err)
	require.Nil(t, june)
}

func TestStore_EmptyProduct(t *testing.T) {
	f := newFixture(t)
	f.idx.AddProduct(index.Product{Name: "empty"})
	f.init(t, "empty")
	ctx := context.Background()

	_, err := f.store.Update(ctx, period.Key{Product: "empty"}, true)
	require.NoError(t, err)

	o, err := f.store.Get(ctx, period.Key{Product: "empty"})
	require.NoError(t, err)
	require.NotNil(t, o)
	require.Equal(t, 0, o.DatasetCount)
	require.Nil(t, o.TimeRange)
	require.Nil(t, o.Footprint)
	require.Empty(t, o.TimelineDatasetCounts)
	require.Empty(t, o.GridDatasetCounts)
}

func TestStore_RollupMatchesDirectSummary(t *testing.T) {
	f := newFixture(t)
	f.idx.Add(
		ds("m1", "ls7", at(2020, 3, 1)),
		ds("m2", "ls7", time.Date(2020, 3, 15, 12, 30, 0, 0, time.UTC)),
		index.Dataset{ID: "m3", Product: "ls7", Time: at(2020, 3, 31)},
	)
	f.init(t, "ls7")
	ctx := context.Background()

	key := period.Key{Product: "ls7", Year: 2020}
	composed, err := f.store.Update(ctx, key, true)
	require.NoError(t, err)

	r, _ := key.Range()
	direct, err := f.idx.Summarise(ctx, "ls7", r)
	require.NoError(t, err)

	require.Equal(t, direct.DatasetCount, composed.DatasetCount)
	require.Equal(t, direct.TimeRange, composed.TimeRange)
	require.Equal(t, direct.FootprintCount, composed.FootprintCount)
	require.Equal(t, direct.SizeBytes, composed.SizeBytes)
	require.Equal(t, direct.GridDatasetCounts, composed.GridDatasetCounts)
	require.Equal(t, direct.CRSes, composed.CRSes)
}

func TestStore_PrunesEmptyPeriodsOutsideRange(t *testing.T) {
	f := newFixture(t)
	f.idx.Add(
		ds("x", "s2a", at(2021, 1, 1)),
		ds("y", "s2a", at(2021, 12, 31)),
	)
	f.init(t, "s2a")
	ctx := context.Background()

	key := period.Key{Product: "s2a", Year: 2019, Month: 6}
	o, err := f.store.Update(ctx, key, true)
	require.NoError(t, err)
	require.Equal(t, 0, o.DatasetCount)

	got, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	require.Nil(t, got)

	stats, err := f.storage.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), stats.Overviews)

	// Empty year before the range is pruned too
	_, err = f.store.Update(ctx, period.Key{Product: "s2a", Year: 2019}, false)
	require.NoError(t, err)
	has, err := f.store.Has(ctx, period.Key{Product: "s2a", Year: 2019})
	require.NoError(t, err)
	require.False(t, has)
}

func TestStore_PrunesWithoutKnownRange(t *testing.T) {
	f := newFixture(t)
	f.idx.AddProduct(index.Product{Name: "empty"})
	f.init(t, "empty")
	ctx := context.Background()

	key := period.Key{Product: "empty", Year: 2021, Month: 1}
	_, err := f.store.Update(ctx, key, true)
	require.NoError(t, err)

	has, err := f.store.Has(ctx, key)
	require.NoError(t, err)
	require.False(t, has)
}

func TestStore_InitProductStaleness(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	ctx := context.Background()

	added, ran, err := f.store.InitProduct(ctx, "ls8", time.Hour)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 5, added)

	added, ran, err = f.store.InitProduct(ctx, "ls8", time.Hour)
	require.NoError(t, err)
	require.False(t, ran)
	require.Equal(t, 0, added)

	require.Equal(t, int32(1), f.records.refreshes.Load())

	p, err := f.store.Product(ctx, "ls8")
	require.NoError(t, err)
	require.Equal(t, 5, p.DatasetCount)
	require.Equal(t, at(2021, 1, 5), p.TimeEarliest)
	require.Equal(t, at(2021, 3, 20), p.TimeLatest)
}

func TestStore_InitProductInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.init(t, "ls8")
	ctx := context.Background()

	p, err := f.store.Product(ctx, "ls8")
	require.NoError(t, err)
	require.Equal(t, 5, p.DatasetCount)

	f.idx.Add(ds("f", "ls8", at(2021, 4, 1)))
	added, ran, err := f.store.InitProduct(ctx, "ls8", 0)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 1, added)

	p, err = f.store.Product(ctx, "ls8")
	require.NoError(t, err)
	require.Equal(t, 6, p.DatasetCount)
	require.Equal(t, at(2021, 4, 1), p.TimeLatest)
}

func TestStore_UpdateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.init(t, "ls8")
	ctx := context.Background()

	key := period.Key{Product: "ls8", Year: 2021}
	first, err := f.store.Update(ctx, key, true)
	require.NoError(t, err)
	second, err := f.store.Update(ctx, key, true)
	require.NoError(t, err)

	first.SummaryGenTime = time.Time{}
	second.SummaryGenTime = time.Time{}
	require.Equal(t, first, second)
}

func TestStore_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Update(ctx, period.Key{Product: "nope", Year: 2021}, true)
	require.ErrorIs(t, err, ErrUnknownProduct)

	_, err = f.store.GetOrUpdate(ctx, period.Key{Product: "nope"})
	require.ErrorIs(t, err, ErrUnknownProduct)

	o, err := f.store.Get(ctx, period.Key{Product: "nope"})
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestStore_InvalidKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Get(context.Background(), period.Key{Product: "ls8", Year: 2021, Month: 13})
	require.ErrorIs(t, err, period.ErrInvalidKey)

	_, err = f.store.Update(context.Background(), period.Key{Product: "ls8", Day: 3}, true)
	require.ErrorIs(t, err, period.ErrInvalidKey)
}

func TestStore_DaysAreNeverStored(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.init(t, "ls8")
	ctx := context.Background()

	key := period.Key{Product: "ls8", Year: 2021, Month: 1, Day: 10}
	o, err := f.store.GetOrUpdate(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, o.DatasetCount)
	require.Equal(t, period.Day, o.TimelinePeriod)

	cached, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	require.Nil(t, cached)
}

func TestStore_ReadOnlyChildren(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.init(t, "ls8")
	ctx := context.Background()

	year := period.Key{Product: "ls8", Year: 2021}

	// Nothing cached yet, so nothing to compose
	o, err := f.store.Update(ctx, year, false)
	require.NoError(t, err)
	require.Equal(t, 0, o.DatasetCount)

	_, err = f.store.GetOrUpdate(ctx, period.Key{Product: "ls8", Year: 2021, Month: 1})
	require.NoError(t, err)

	o, err = f.store.Update(ctx, year, false)
	require.NoError(t, err)
	require.Equal(t, 3, o.DatasetCount)

	// No other month was computed
	march, err := f.store.Get(ctx, period.Key{Product: "ls8", Year: 2021, Month: 3})
	require.NoError(t, err)
	require.Nil(t, march)
}

func TestStore_Listeners(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.init(t, "ls8")
	ctx := context.Background()

	var mu sync.Mutex
	seen := make(map[period.Key]int)
	f.store.OnUpdate(func(key period.Key, o *overview.Overview) {
		mu.Lock()
		defer mu.Unlock()
		seen[key] = o.DatasetCount
	})

	_, err := f.store.GetOrUpdate(ctx, period.Key{Product: "ls8", Year: 2021})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	// 12 months and the year, including months that were pruned
	require.Len(t, seen, 13)
	require.Equal(t, 5, seen[period.Key{Product: "ls8", Year: 2021}])
	require.Equal(t, 3, seen[period.Key{Product: "ls8", Year: 2021, Month: 1}])
	require.Equal(t, 0, seen[period.Key{Product: "ls8", Year: 2021, Month: 12}])
}

func TestStore_GlobalOverview(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.idx.Add(ds("p", "ls7", at(2019, 7, 1)))
	// Known to the index but never initialised
	f.idx.AddProduct(index.Product{Name: "s2b"})
	f.init(t, "ls8", "ls7")
	ctx := context.Background()

	all, err := f.store.GetOrUpdate(ctx, period.Key{})
	require.NoError(t, err)
	require.Equal(t, 6, all.DatasetCount)
	require.Equal(t, &overview.TimeRange{Earliest: at(2019, 7, 1), Latest: at(2021, 3, 20)}, all.TimeRange)

	stored, err := f.store.Get(ctx, period.Key{})
	require.NoError(t, err)
	require.Equal(t, 6, stored.DatasetCount)

	// Products' all-time overviews were generated on the way
	complete, err := f.store.ListCompleteProducts(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"ls7", "ls8"}, complete)

	jan, err := f.store.GetOrUpdate(ctx, period.Global(2021, 1, 0))
	require.NoError(t, err)
	require.Equal(t, 3, jan.DatasetCount)

	// Empty global months before every product are pruned
	_, err = f.store.Update(ctx, period.Global(2010, 1, 0), true)
	require.NoError(t, err)
	has, err := f.store.Has(ctx, period.Global(2010, 1, 0))
	require.NoError(t, err)
	require.False(t, has)
}

func TestStore_PrunesGlobalByProductRanges(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.idx.Add(ds("p", "ls7", at(2019, 7, 1)))
	f.init(t, "ls8", "ls7")
	ctx := context.Background()

	// No global all-time overview is stored yet
	cases := []struct {
		key    period.Key
		stored bool
	}{
		{period.Global(2020, 6, 0), true},
		{period.Global(2019, 6, 0), false},
		{period.Global(2021, 4, 0), false},
		{period.Global(2020, 0, 0), true},
	}
	for _, tc := range cases {
		o, err := f.store.Update(ctx, tc.key, true)
		require.NoError(t, err)
		require.Equal(t, 0, o.DatasetCount, tc.key.String())

		has, err := f.store.Has(ctx, tc.key)
		require.NoError(t, err)
		require.Equal(t, tc.stored, has, tc.key.String())
	}
}

func TestStore_ConcurrentGetOrUpdate(t *testing.T) {
	f := newFixture(t, WithConcurrency(8))
	addLS8(f.idx)
	f.init(t, "ls8")
	ctx := context.Background()

	var wg sync.WaitGroup
	counts := make([]int, 10)
	errs := make([]error, 10)
	for i := range counts {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			o, err := f.store.GetOrUpdate(ctx, period.Key{Product: "ls8"})
			errs[n] = err
			if o != nil {
				counts[n] = o.DatasetCount
			}
		}(i)
	}
	wg.Wait()

	for i := range counts {
		require.NoError(t, errs[i])
		require.Equal(t, 5, counts[i])
	}
}

// gatedSummariser blocks Summarise until release is closed
type gatedSummariser struct {
	*memindex.Index
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSummariser) Summarise(ctx context.Context, product string, r period.Range) (*overview.Overview, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Index.Summarise(ctx, product, r)
}

func TestStore_GetOrUpdateSurvivesCancelledCaller(t *testing.T) {
	idx := memindex.New()
	addLS8(idx)
	gate := &gatedSummariser{Index: idx, entered: make(chan struct{}), release: make(chan struct{})}
	store := New(memstore.New(), idx, gate)
	_, _, err := store.InitProduct(context.Background(), "ls8", 0)
	require.NoError(t, err)

	key := period.Key{Product: "ls8", Year: 2021, Month: 1}
	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := store.GetOrUpdate(first, key)
		firstErr <- err
	}()
	<-gate.entered

	type result struct {
		o   *overview.Overview
		err error
	}
	second := make(chan result, 1)
	go func() {
		o, err := store.GetOrUpdate(context.Background(), key)
		second <- result{o, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate.release)
	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, 3, res.o.DatasetCount)

	stored, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, 3, stored.DatasetCount)
}

func TestStore_RefreshProduct(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.init(t, "ls8")
	ctx := context.Background()

	year := period.Key{Product: "ls8", Year: 2021}
	_, err := f.store.GetOrUpdate(ctx, period.Key{Product: "ls8"})
	require.NoError(t, err)

	f.idx.Add(ds("f", "ls8", at(2021, 2, 14)))
	_, ran, err := f.store.InitProduct(ctx, "ls8", 0)
	require.NoError(t, err)
	require.True(t, ran)

	// GetOrUpdate keeps the stale year
	stale, err := f.store.GetOrUpdate(ctx, year)
	require.NoError(t, err)
	require.Equal(t, 5, stale.DatasetCount)

	all, err := f.store.RefreshProduct(ctx, "ls8")
	require.NoError(t, err)
	require.Equal(t, 6, all.DatasetCount)

	fresh, err := f.store.Get(ctx, year)
	require.NoError(t, err)
	require.Equal(t, 6, fresh.DatasetCount)
	require.Equal(t, 1, fresh.TimelineDatasetCounts[at(2021, 2, 1)])

	_, err = f.store.RefreshProduct(ctx, "nope")
	require.ErrorIs(t, err, ErrUnknownProduct)
}

func TestStore_InitAll(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.idx.Add(ds("p", "ls7", at(2019, 7, 1)))
	ctx := context.Background()

	refreshed, err := f.store.Init(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"ls7": 1, "ls8": 5}, refreshed)

	refreshed, err = f.store.Init(ctx, time.Hour)
	require.NoError(t, err)
	require.Empty(t, refreshed)
}

func TestStore_LastUpdated(t *testing.T) {
	now := at(2024, 5, 1)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	addLS8(f.idx)
	f.init(t, "ls8")

	require.True(t, f.store.LastUpdated().IsZero())

	_, err := f.store.Update(context.Background(), period.Key{Product: "ls8", Year: 2021, Month: 1}, true)
	require.NoError(t, err)
	require.Equal(t, now, f.store.LastUpdated())
}

func TestStore_DatasetFootprints(t *testing.T) {
	f := newFixture(t)
	addLS8(f.idx)
	f.init(t, "ls8")
	ctx := context.Background()

	fc, err := f.store.DatasetFootprints(ctx, period.Key{Product: "ls8", Year: 2021, Month: 3})
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	fc, err = f.store.DatasetFootprints(ctx, period.Key{Product: "ls8"})
	require.NoError(t, err)
	require.Len(t, fc.Features, 5)

	_, err = f.store.DatasetFootprints(ctx, period.Key{Product: "nope"})
	require.ErrorIs(t, err, ErrUnknownProduct)
}

func TestProductCache(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	cache := NewProductCache(st, time.Minute)

	p, err := cache.Get(ctx, "ls8")
	require.NoError(t, err)
	require.Nil(t, p)
	require.Equal(t, 0, cache.Len())

	_, err = st.PutProduct(ctx, storageSummary("ls8", 1))
	require.NoError(t, err)

	p, err = cache.Get(ctx, "ls8")
	require.NoError(t, err)
	require.Equal(t, 1, p.DatasetCount)
	require.Equal(t, 1, cache.Len())

	// Served from cache until invalidated
	_, err = st.PutProduct(ctx, storageSummary("ls8", 2))
	require.NoError(t, err)
	p, _ = cache.Get(ctx, "ls8")
	require.Equal(t, 1, p.DatasetCount)

	cache.Invalidate("ls8")
	p, _ = cache.Get(ctx, "ls8")
	require.Equal(t, 2, p.DatasetCount)

	cache.Clear()
	require.Equal(t, 0, cache.Len())
}

func storageSummary(name string, count int) storage.ProductSummary {
	return storage.ProductSummary{Name: name, DatasetCount: count}
}
