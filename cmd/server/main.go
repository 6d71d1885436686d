package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinysummary/pkg/config"
	"github.com/nicktill/tinysummary/pkg/logging"
	"github.com/nicktill/tinysummary/pkg/server"
)

const (
	// Server configuration
	serverReadTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	log := logging.Component("main")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log = logging.Component("main")
	log.Info().Str("port", cfg.Server.Port).Msg("starting summary server")

	st, err := server.InitializeStorage(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer st.Close()

	idx := server.InitializeIndex(cfg.Index)
	if n, err := server.DetachedProducts(context.Background(), st, idx); err != nil {
		log.Warn().Err(err).Msg("failed to check stored products")
	} else if n > 0 {
		// Datasets are not persisted; stored overviews are served but
		// uncached periods need their datasets ingested again.
		log.Warn().Uint64("stored_products", n).Msg("storage has products the empty index does not know")
	}
	store := server.InitializeSummary(cfg.Summary, st, idx)
	handlers := server.InitializeHandlers(cfg, st, idx, store)
	refresh := server.InitializeRefresh(cfg.Refresh, store, handlers.Monitor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		handlers.Hub.Run(ctx)
	}()
	log.Info().Msg("websocket hub started for overview updates")

	wg.Add(1)
	go refresh.Run(ctx, &wg)

	wg.Add(1)
	go server.RunBadgerGC(ctx, st, logging.Component("gc"), &wg)

	router := mux.NewRouter()
	server.SetupRoutes(router, handlers, cfg.Server.Port)

	// No write timeout: computing an uncached rollup may take minutes,
	// each handler bounds its own work with a context deadline.
	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: serverReadTimeout,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Strs("endpoints", []string{
				"GET  /v1/overview/{product}/{year}/{month}/{day}",
				"GET  /v1/footprints/{product}/{year}/{month}/{day}",
				"GET  /v1/export/{product}/{year}/{month}/{day}",
				"GET  /v1/products",
				"POST /v1/products/{product}/refresh",
				"POST /v1/datasets",
				"GET  /v1/ws",
				"GET  /v1/health",
				"GET  /v1/stats",
				"GET  /metrics",
			}).
			Msg("server ready to accept requests")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received")

	// Cancel first so background loops stop before wg.Wait
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown warning")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("some background tasks did not stop in time")
	}

	log.Info().Msg("summary server exited")
}
