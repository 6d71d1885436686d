package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/storage"
)

// Storage stores overviews in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	mu        sync.RWMutex
	overviews map[overviewKey]*overview.Overview
	products  map[string]productRecord
	nextID    storage.ProductID
	now       func() time.Time
}

type overviewKey struct {
	id          storage.ProductID
	anchor      time.Time
	granularity period.Granularity
}

type productRecord struct {
	summary     storage.ProductSummary
	lastRefresh time.Time
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		overviews: make(map[overviewKey]*overview.Overview),
		products:  make(map[string]productRecord),
		now:       time.Now,
	}
}

// NewWithClock creates an in-memory backend whose clock is now.
func NewWithClock(now func() time.Time) *Storage {
	s := New()
	s.now = now
	return s
}

// GetOverview returns a copy of the stored overview
func (s *Storage) GetOverview(ctx context.Context, id storage.ProductID, anchor time.Time, g period.Granularity) (*overview.Overview, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.overviews[overviewKey{id: id, anchor: anchor.UTC(), granularity: g}]
	if !ok {
		return nil, nil
	}
	return o.Clone(), nil
}

// PutOverview stores a copy of the overview
func (s *Storage) PutOverview(ctx context.Context, id storage.ProductID, anchor time.Time, g period.Granularity, o *overview.Overview) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.overviews[overviewKey{id: id, anchor: anchor.UTC(), granularity: g}] = o.Clone()
	return nil
}

// GetProduct returns product metadata with its refresh age
func (s *Storage) GetProduct(ctx context.Context, name string) (*storage.ProductSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[name]
	if !ok {
		return nil, nil
	}
	p := rec.summary
	p.LastRefreshAge = s.now().Sub(rec.lastRefresh)
	return &p, nil
}

// PutProduct upserts product metadata, keeping the existing ID for known names
func (s *Storage) PutProduct(ctx context.Context, p storage.ProductSummary) (storage.ProductID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.products[p.Name]; ok {
		p.ID = existing.summary.ID
	} else {
		s.nextID++
		p.ID = s.nextID
	}
	p.LastRefreshAge = 0

	s.products[p.Name] = productRecord{summary: p, lastRefresh: s.now()}
	return p.ID, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &storage.Stats{
		Products:  uint64(len(s.products)),
		Overviews: uint64(len(s.overviews)),
		// Rough size estimate (each overview ~1 KB)
		SizeBytes: uint64(len(s.overviews)) * 1024,
	}, nil
}
