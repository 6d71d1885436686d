package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/tinysummary/pkg/config"
	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/logging"
	"github.com/nicktill/tinysummary/pkg/server/monitor"
	"github.com/nicktill/tinysummary/pkg/storage"
	"github.com/nicktill/tinysummary/pkg/summary"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string                `json:"status"`
	Version string                `json:"version"`
	Uptime  string                `json:"uptime"`
	Refresh monitor.RefreshStatus `json:"refresh"`
}

// StatsResponse represents storage and cache statistics.
type StatsResponse struct {
	Storage        *storage.Stats `json:"storage"`
	CachedProducts int            `json:"cached_products"`
	LastUpdated    *time.Time     `json:"last_updated,omitempty"`
}

// handleHealth returns service health status.
func handleHealth(refreshMonitor *monitor.RefreshMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !refreshMonitor.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:  overallStatus,
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Refresh: refreshMonitor.Status(),
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStats returns storage usage and summary cache state.
func handleStats(st storage.Storage, store *summary.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
		defer cancel()

		stats, err := st.Stats(ctx)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		response := StatsResponse{
			Storage:        stats,
			CachedProducts: store.Products().Len(),
		}
		if last := store.LastUpdated(); !last.IsZero() {
			response.LastUpdated = &last
		}

		httpx.RespondJSON(w, http.StatusOK, response)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, h Handlers, port string) {
	// CORS middleware for API access
	router.Use(corsMiddleware(port))
	router.Use(httpx.RequestMiddleware(logging.Component("http")))

	// Overviews, footprints, products and on-demand refresh
	h.API.Register(router)

	v1 := router.PathPrefix("/v1").Subrouter()

	// Dataset ingestion
	v1.HandleFunc("/datasets", h.Ingest.HandleIngest).Methods(http.MethodPost)

	// Export
	for _, route := range httpx.PeriodRoutes("/export") {
		v1.HandleFunc(route, h.Export.HandleExport).Methods(http.MethodGet)
	}

	// Health and stats
	v1.HandleFunc("/health", handleHealth(h.Monitor)).Methods(http.MethodGet)
	v1.HandleFunc("/stats", handleStats(h.Storage, h.Store)).Methods(http.MethodGet)

	// WebSocket stream of overview updates
	v1.HandleFunc("/ws", h.Hub.HandleWebSocket).Methods(http.MethodGet)

	// Prometheus scrape endpoint
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-None-Match")
				w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
