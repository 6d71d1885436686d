package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/tinysummary/pkg/metrics"
	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/storage"
)

// put stores o under key unless it is an empty period outside the data's range.
func (s *Store) put(ctx context.Context, key period.Key, id storage.ProductID, product *storage.ProductSummary, o *overview.Overview) error {
	skip, err := s.prunable(ctx, key, product, o)
	if err != nil {
		return err
	}
	if skip {
		metrics.OverviewPrunedWrites.WithLabelValues(key.Granularity().String()).Inc()
		s.log.Debug().Str("key", key.String()).Msg("empty period outside data range, not stored")
		return nil
	}

	anchor, g := period.Resolve(key.Year, key.Month, key.Day)
	if err := s.storage.PutOverview(ctx, id, anchor, g, o); err != nil {
		return fmt.Errorf("failed to store overview %s: %w", key, err)
	}
	return nil
}

// prunable reports whether an empty year or month falls outside the known time range.
// With no known range the write is skipped too.
func (s *Store) prunable(ctx context.Context, key period.Key, product *storage.ProductSummary, o *overview.Overview) (bool, error) {
	if o.DatasetCount != 0 {
		return false, nil
	}
	r, bounded := key.Range()
	if !bounded {
		return false, nil
	}

	earliest, latest, known, err := s.extent(ctx, product)
	if err != nil {
		return false, err
	}
	if !known {
		return true, nil
	}
	return r.Last().Before(earliest) || r.Start.After(latest), nil
}

// extent returns the known time range of a product, or for global keys the
// union of the ranges of all initialized products.
func (s *Store) extent(ctx context.Context, product *storage.ProductSummary) (earliest, latest time.Time, known bool, err error) {
	if product != nil {
		if !product.HasTimeRange() {
			return time.Time{}, time.Time{}, false, nil
		}
		return product.TimeEarliest, product.TimeLatest, true, nil
	}

	products, err := s.records.ListProducts(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("failed to list products: %w", err)
	}
	for _, p := range products {
		summary, err := s.products.Get(ctx, p.Name)
		if err != nil {
			return time.Time{}, time.Time{}, false, err
		}
		if summary == nil || !summary.HasTimeRange() {
			continue
		}
		if !known || summary.TimeEarliest.Before(earliest) {
			earliest = summary.TimeEarliest
		}
		if !known || summary.TimeLatest.After(latest) {
			latest = summary.TimeLatest
		}
		known = true
	}
	return earliest, latest, known, nil
}
