package server

import (
	"context"
	"fmt"
	"os"

	"github.com/nicktill/tinysummary/pkg/api"
	"github.com/nicktill/tinysummary/pkg/config"
	"github.com/nicktill/tinysummary/pkg/export"
	memindex "github.com/nicktill/tinysummary/pkg/index/memory"
	"github.com/nicktill/tinysummary/pkg/ingest"
	"github.com/nicktill/tinysummary/pkg/logging"
	"github.com/nicktill/tinysummary/pkg/server/monitor"
	"github.com/nicktill/tinysummary/pkg/storage"
	"github.com/nicktill/tinysummary/pkg/storage/badger"
	"github.com/nicktill/tinysummary/pkg/summary"
)

// Handlers groups the HTTP handlers served by the router
type Handlers struct {
	API     *api.Handler
	Ingest  *ingest.Handler
	Export  *export.Handler
	Hub     *api.UpdateHub
	Monitor *monitor.RefreshMonitor
	Storage storage.Storage
	Store   *summary.Store
}

// InitializeStorage opens the BadgerDB overview store described by cfg.
func InitializeStorage(cfg config.StorageConfig) (storage.Storage, error) {
	log := logging.Component("storage")

	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	log.Info().
		Str("dir", cfg.Dir).
		Bool("in_memory", cfg.InMemory).
		Int64("max_memory_mb", cfg.MaxMemoryMB).
		Msg("initializing BadgerDB storage with Snappy compression")

	store, err := badger.New(badger.Config{
		Path:        cfg.Dir,
		InMemory:    cfg.InMemory,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("BadgerDB storage initialized")
	return store, nil
}

// InitializeIndex creates the in-process dataset index.
//
// The index lives only in memory while overviews persist in storage. After a
// restart, stored overviews stay readable but uncached periods of a product
// fail with memindex.ErrProductNotFound until its datasets are ingested again.
func InitializeIndex(cfg config.IndexConfig) *memindex.Index {
	return memindex.New(memindex.WithGridSize(cfg.GridSize))
}

// DetachedProducts returns how many products storage holds metadata for while
// the index is empty, the state a restart leaves behind.
func DetachedProducts(ctx context.Context, st storage.Storage, idx *memindex.Index) (uint64, error) {
	products, err := idx.ListProducts(ctx)
	if err != nil {
		return 0, err
	}
	if len(products) > 0 {
		return 0, nil
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read storage stats: %w", err)
	}
	return stats.Products, nil
}

// InitializeSummary creates the summary store over st and idx.
func InitializeSummary(cfg config.SummaryConfig, st storage.Storage, idx *memindex.Index) *summary.Store {
	return summary.New(st, idx, idx,
		summary.WithLogger(logging.Component("summary")),
		summary.WithConcurrency(cfg.Concurrency),
		summary.WithProductCacheTTL(cfg.ProductCacheTTL),
	)
}

// InitializeHandlers creates and configures all request handlers. The update
// hub is registered as a summary listener; the caller runs it.
func InitializeHandlers(
	cfg *config.Config,
	st storage.Storage,
	idx *memindex.Index,
	store *summary.Store,
) Handlers {
	log := logging.Component("server")

	hub := api.NewUpdateHub(logging.Component("ws"))
	store.OnUpdate(hub.Listener())

	h := Handlers{
		API:     api.NewHandler(store, idx, logging.Component("api")),
		Ingest:  ingest.NewHandler(idx, logging.Component("ingest")),
		Export:  export.NewHandler(store, logging.Component("export")),
		Hub:     hub,
		Monitor: monitor.NewRefreshMonitor(cfg.Refresh.Interval),
		Storage: st,
		Store:   store,
	}

	log.Info().
		Int("max_datasets_per_request", ingest.MaxDatasetsPerRequest).
		Int("rollup_concurrency", cfg.Summary.Concurrency).
		Dur("refresh_interval", cfg.Refresh.Interval).
		Dur("refresh_older_than", cfg.Refresh.OlderThan).
		Msg("handlers created")

	return h
}

// InitializeRefresh creates the background refresh task for store.
func InitializeRefresh(cfg config.RefreshConfig, store *summary.Store, mon *monitor.RefreshMonitor) *RefreshTask {
	return NewRefreshTask(store, mon, cfg, logging.Component("refresh"))
}
