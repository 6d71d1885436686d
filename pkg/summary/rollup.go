package summary

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/storage"
)

// compute dispatches on the key's granularity. product is nil for global keys.
func (s *Store) compute(ctx context.Context, key period.Key, product *storage.ProductSummary, generate bool) (*overview.Overview, error) {
	switch key.Granularity() {
	case period.Day, period.Month:
		r, _ := key.Range()
		o, err := s.summariser.Summarise(ctx, key.Product, r)
		if err != nil {
			return nil, fmt.Errorf("failed to summarise %s: %w", key, err)
		}
		return o, nil

	case period.Year:
		children := make([]period.Key, 0, 12)
		for month := 1; month <= 12; month++ {
			children = append(children, period.Key{Product: key.Product, Year: key.Year, Month: month})
		}
		return s.compose(ctx, children, generate)

	default:
		if product != nil {
			return s.compose(ctx, yearKeys(product), generate)
		}
		children, err := s.productKeys(ctx)
		if err != nil {
			return nil, err
		}
		return s.compose(ctx, children, generate)
	}
}

// yearKeys returns a key for every year in the product's time range
func yearKeys(p *storage.ProductSummary) []period.Key {
	if p.DatasetCount == 0 || !p.HasTimeRange() {
		return nil
	}
	first, last := p.TimeEarliest.UTC().Year(), p.TimeLatest.UTC().Year()
	keys := make([]period.Key, 0, last-first+1)
	for year := first; year <= last; year++ {
		keys = append(keys, period.Key{Product: p.Name, Year: year})
	}
	return keys
}

// productKeys returns the all-time key of every initialized product.
// Products the index knows but that were never initialized are left out.
func (s *Store) productKeys(ctx context.Context) ([]period.Key, error) {
	products, err := s.records.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	keys := make([]period.Key, 0, len(products))
	for _, p := range products {
		summary, err := s.products.Get(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		if summary == nil {
			s.log.Warn().Str("product", p.Name).Msg("product not initialised, left out of global overview")
			continue
		}
		keys = append(keys, period.Key{Product: p.Name})
	}
	return keys, nil
}

// compose fetches every child and merges them. Children without a stored
// overview are skipped when generate is false.
func (s *Store) compose(ctx context.Context, children []period.Key, generate bool) (*overview.Overview, error) {
	results := make([]*overview.Overview, len(children))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, child := range children {
		i, child := i, child
		g.Go(func() error {
			var (
				o   *overview.Overview
				err error
			)
			if generate {
				o, err = s.GetOrUpdate(gctx, child)
			} else {
				o, err = s.Get(gctx, child)
			}
			if err != nil {
				return err
			}
			results[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := s.compositor.Merge(results...)

	// Composed timelines use month buckets, and years once there are too many months
	return merged.Regroup(period.Month).Compact(overview.MaxTimelineBuckets), nil
}
