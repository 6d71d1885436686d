package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/tinysummary/pkg/metrics"
	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/storage"
)

// InitProduct refreshes the product's extents and upserts its metadata, unless
// the last refresh is younger than refreshOlderThan. It returns the number of
// newly indexed datasets and whether a refresh ran.
func (s *Store) InitProduct(ctx context.Context, name string, refreshOlderThan time.Duration) (int, bool, error) {
	existing, err := s.storage.GetProduct(ctx, name)
	if err != nil {
		metrics.ProductRefreshes.WithLabelValues("failed").Inc()
		return 0, false, fmt.Errorf("failed to read product %q: %w", name, err)
	}
	if existing != nil && existing.LastRefreshAge < refreshOlderThan {
		metrics.ProductRefreshes.WithLabelValues("skipped").Inc()
		s.log.Debug().
			Str("product", name).
			Dur("age", existing.LastRefreshAge).
			Dur("refresh_older_than", refreshOlderThan).
			Msg("init.product.skip.too_recent")
		return 0, false, nil
	}

	s.log.Debug().Str("product", name).Msg("init.product")

	added, err := s.records.RefreshExtents(ctx, name)
	if err != nil {
		metrics.ProductRefreshes.WithLabelValues("failed").Inc()
		return 0, false, fmt.Errorf("failed to refresh extents of %q: %w", name, err)
	}

	bounds, err := s.records.AggregateBounds(ctx, name)
	if err != nil {
		metrics.ProductRefreshes.WithLabelValues("failed").Inc()
		return 0, false, fmt.Errorf("failed to aggregate bounds of %q: %w", name, err)
	}

	summary := storage.ProductSummary{Name: name, DatasetCount: bounds.Count}
	if bounds.Count > 0 {
		summary.TimeEarliest = bounds.Earliest.UTC()
		summary.TimeLatest = bounds.Latest.UTC()
	}

	_, err = s.storage.PutProduct(ctx, summary)
	// Invalidate even on failure, the write may have landed
	s.products.Invalidate(name)
	if err != nil {
		metrics.ProductRefreshes.WithLabelValues("failed").Inc()
		return 0, false, fmt.Errorf("failed to store product %q: %w", name, err)
	}

	metrics.ProductRefreshes.WithLabelValues("refreshed").Inc()
	metrics.DatasetsIndexed.Add(float64(added))

	s.log.Info().
		Str("product", name).
		Int("new_datasets", added).
		Int("datasets", bounds.Count).
		Msg("product extents refreshed")

	return added, true, nil
}

// Init runs InitProduct for every product in the index. It returns the newly
// indexed dataset count of each product that was refreshed. A failing product
// does not stop the others; their errors are joined.
func (s *Store) Init(ctx context.Context, refreshOlderThan time.Duration) (map[string]int, error) {
	products, err := s.records.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	refreshed := make(map[string]int)
	var errs []error
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		added, ran, err := s.InitProduct(ctx, p.Name, refreshOlderThan)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ran {
			refreshed[p.Name] = added
		}
	}
	return refreshed, errors.Join(errs...)
}

// RefreshProduct recomputes every stored period of a product from raw records:
// each month in its time range, then each year, then its all-time overview.
// Use it after new datasets were indexed, since GetOrUpdate keeps stale children.
func (s *Store) RefreshProduct(ctx context.Context, name string) (*overview.Overview, error) {
	p, err := s.products.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, name)
	}

	for _, year := range yearKeys(p) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for month := 1; month <= 12; month++ {
			key := period.Key{Product: name, Year: year.Year, Month: month}
			g.Go(func() error {
				_, err := s.Update(gctx, key, false)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if _, err := s.Update(ctx, year, false); err != nil {
			return nil, err
		}
	}

	return s.Update(ctx, period.Key{Product: name}, false)
}

// Stale reports whether the stored all-time overview of a product disagrees
// with its metadata dataset count, so its periods need RefreshProduct.
func (s *Store) Stale(ctx context.Context, name string) (bool, error) {
	p, err := s.products.Get(ctx, name)
	if err != nil || p == nil {
		return false, err
	}
	all, err := s.Get(ctx, period.Key{Product: name})
	if err != nil {
		return false, err
	}
	if all == nil {
		return p.DatasetCount > 0, nil
	}
	return all.DatasetCount != p.DatasetCount, nil
}
