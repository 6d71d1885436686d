package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicktill/tinysummary/pkg/config"
	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/server/monitor"
	"github.com/nicktill/tinysummary/pkg/storage"
	"github.com/nicktill/tinysummary/pkg/storage/badger"
)

// Refresher is the part of the summary store driven by the refresh loop
type Refresher interface {
	Init(ctx context.Context, refreshOlderThan time.Duration) (map[string]int, error)
	RefreshProduct(ctx context.Context, name string) (*overview.Overview, error)
	Update(ctx context.Context, key period.Key, generateMissingChildren bool) (*overview.Overview, error)
	Has(ctx context.Context, key period.Key) (bool, error)
	Stale(ctx context.Context, name string) (bool, error)
}

// RefreshTask refreshes product extents on an interval and recomputes the
// overviews of products that gained datasets.
type RefreshTask struct {
	Store     Refresher
	Monitor   *monitor.RefreshMonitor
	Interval  time.Duration
	OlderThan time.Duration
	Log       zerolog.Logger

	MaxRetries int
	RetryDelay time.Duration

	// Products whose recompute has not yet succeeded, and whether the global
	// overview is behind them. Both survive failed runs.
	mu          sync.Mutex
	dirty       map[string]struct{}
	globalDirty bool
}

// NewRefreshTask creates a refresh task with the default retry policy: 3 retries
// with exponential backoff starting at 30s.
func NewRefreshTask(store Refresher, mon *monitor.RefreshMonitor, cfg config.RefreshConfig, log zerolog.Logger) *RefreshTask {
	return &RefreshTask{
		Store:      store,
		Monitor:    mon,
		Interval:   cfg.Interval,
		OlderThan:  cfg.OlderThan,
		Log:        log,
		MaxRetries: 3,
		RetryDelay: 30 * time.Second,
	}
}

// Run runs the refresh once on startup and then on every tick until ctx is done.
func (t *RefreshTask) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	t.Log.Info().Dur("interval", t.Interval).Msg("running initial refresh")
	t.runWithRetry(ctx)

	for {
		select {
		case <-ticker.C:
			t.Log.Info().Msg("scheduled refresh started")
			t.runWithRetry(ctx)
		case <-ctx.Done():
			t.Log.Info().Msg("stopping refresh scheduler")
			return
		}
	}
}

// runWithRetry runs one refresh, retrying with exponential backoff: 30s, 60s, 120s
func (t *RefreshTask) runWithRetry(ctx context.Context) {
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := t.RetryDelay * time.Duration(1<<(attempt-1))
			t.Log.Info().
				Dur("delay", delay).
				Int("attempt", attempt+1).
				Int("max_attempts", t.MaxRetries+1).
				Msg("retrying refresh")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, config.RefreshTaskTimeout)
		start := time.Now()
		refreshed, err := t.RefreshOnce(runCtx)
		cancel()

		if err == nil {
			t.Monitor.RecordSuccess(refreshed)
			t.Log.Info().
				Int("products_recomputed", refreshed).
				Dur("took", time.Since(start).Round(time.Millisecond)).
				Msg("refresh completed")
			return
		}
		if ctx.Err() != nil {
			return
		}

		t.Monitor.RecordFailure(err)
		t.Log.Error().Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", t.MaxRetries+1).
			Msg("refresh failed")

		if n := t.Monitor.ConsecutiveErrors(); n > monitor.MaxConsecutiveErrors {
			t.Log.Warn().Int("consecutive_errors", n).Msg("refresh has been failing")
		}
	}

	t.Log.Error().Int("attempts", t.MaxRetries+1).Msg("refresh failed, will retry on next schedule")
}

// RefreshOnce refreshes stale product extents, recomputes every product that
// gained datasets, then the global overview. It returns the number of products
// recomputed. Products whose extents failed to refresh do not stop the others.
// A product or global recompute that fails is retried on the next run even
// though its datasets are already indexed.
func (t *RefreshTask) RefreshOnce(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	refreshed, initErr := t.Store.Init(ctx, t.OlderThan)

	if t.dirty == nil {
		t.dirty = make(map[string]struct{})
	}
	for name, added := range refreshed {
		if added > 0 {
			t.dirty[name] = struct{}{}
			continue
		}
		// Extents whose recompute was lost, e.g. to a failed metadata write
		stale, err := t.Store.Stale(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("failed to check product %q: %w", name, err)
		}
		if stale {
			t.dirty[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(t.dirty))
	for name := range t.dirty {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o, err := t.Store.RefreshProduct(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("failed to recompute product %q: %w", name, err)
		}
		delete(t.dirty, name)
		t.globalDirty = true
		t.Log.Debug().
			Str("product", name).
			Int("new_datasets", refreshed[name]).
			Int("datasets", o.DatasetCount).
			Msg("product recomputed")
	}

	global := period.Key{}
	stored, err := t.Store.Has(ctx, global)
	if err != nil {
		return 0, fmt.Errorf("failed to read global overview: %w", err)
	}
	if t.globalDirty || !stored {
		if _, err := t.Store.Update(ctx, global, true); err != nil {
			return 0, fmt.Errorf("failed to recompute global overview: %w", err)
		}
		t.globalDirty = false
	}

	if initErr != nil {
		return len(names), fmt.Errorf("failed to refresh some products: %w", initErr)
	}
	return len(names), nil
}

// RunBadgerGC runs BadgerDB garbage collection periodically to reclaim disk space.
// Every recomputation overwrites overview rows, leaving garbage in the value log.
func RunBadgerGC(ctx context.Context, store storage.Storage, log zerolog.Logger, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Info().Msg("storage is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", config.BadgerGCInterval).Msg("BadgerDB GC scheduler started")

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Rewrite a value log file if half of it is garbage
			if err := badgerStore.RunGC(0.5); err != nil {
				log.Error().Err(err).Msg("BadgerDB GC failed")
				continue
			}
			log.Debug().Dur("took", time.Since(start).Round(time.Millisecond)).Msg("BadgerDB GC completed")
		case <-ctx.Done():
			log.Info().Msg("stopping BadgerDB GC scheduler")
			return
		}
	}
}
