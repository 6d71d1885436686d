// Package api serves overviews, products and footprints over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nicktill/tinysummary/pkg/config"
	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/index"
	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/summary"
)

// Overview read modes, selected with ?mode=
const (
	// ModeCached returns only stored overviews
	ModeCached = "cached"

	// ModeCompute computes and stores missing overviews (default)
	ModeCompute = "compute"

	// ModeRefresh recomputes the overview even when one is stored
	ModeRefresh = "refresh"
)

var (
	errNotStored      = errors.New("no stored overview for period")
	errProductMissing = errors.New("product not found in index")
)

// Handler serves the read and refresh endpoints
type Handler struct {
	store   *summary.Store
	records index.Records
	log     zerolog.Logger
}

// NewHandler creates a new API handler
func NewHandler(store *summary.Store, records index.Records, log zerolog.Logger) *Handler {
	return &Handler{
		store:   store,
		records: records,
		log:     log,
	}
}

// Register adds the handler's routes to r
func (h *Handler) Register(r *mux.Router) {
	for _, route := range httpx.PeriodRoutes("/v1/overview") {
		r.HandleFunc(route, h.HandleOverview).Methods(http.MethodGet)
	}
	for _, route := range httpx.PeriodRoutes("/v1/footprints") {
		r.HandleFunc(route, h.HandleFootprints).Methods(http.MethodGet)
	}
	r.HandleFunc("/v1/products", h.HandleProducts).Methods(http.MethodGet)
	r.HandleFunc("/v1/products/{product}/refresh", h.HandleRefreshProduct).Methods(http.MethodPost)
}

// HandleOverview handles GET /v1/overview/{product}/{year}/{month}/{day}
// Query params:
//   - mode: "cached", "compute" (default) or "refresh"
func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	key, err := httpx.KeyFromRequest(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = ModeCompute
	}

	timeout := config.ComputeTimeout
	if mode == ModeCached {
		timeout = config.OverviewTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	var o *overview.Overview
	switch mode {
	case ModeCached:
		o, err = h.store.Get(ctx, key)
		if err == nil && o == nil {
			err = fmt.Errorf("%w: %s", errNotStored, key)
		}
	case ModeCompute:
		o, err = h.store.GetOrUpdate(ctx, key)
	case ModeRefresh:
		o, err = h.store.Update(ctx, key, true)
	default:
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid mode %q. Must be 'cached', 'compute' or 'refresh'", mode))
		return
	}
	if err != nil {
		h.respondError(w, key, err)
		return
	}

	httpx.RespondCachedJSON(w, r, NewOverviewResponse(key, o))
}

// HandleFootprints handles GET /v1/footprints/{product}/{year}/{month}/{day}
// and returns a GeoJSON FeatureCollection of dataset footprints.
func (h *Handler) HandleFootprints(w http.ResponseWriter, r *http.Request) {
	key, err := httpx.KeyFromRequest(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.OverviewTimeout)
	defer cancel()

	fc, err := h.store.DatasetFootprints(ctx, key)
	if err != nil {
		h.respondError(w, key, err)
		return
	}
	httpx.RespondCachedJSON(w, r, fc)
}

// HandleProducts handles GET /v1/products
func (h *Handler) HandleProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.ListTimeout)
	defer cancel()

	products, err := h.records.ListProducts(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list products")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	complete, err := h.store.ListCompleteProducts(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list complete products")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	isComplete := make(map[string]bool, len(complete))
	for _, name := range complete {
		isComplete[name] = true
	}

	resp := ProductsResponse{Products: make([]ProductResponse, 0, len(products))}
	for _, p := range products {
		meta, err := h.store.Product(ctx, p.Name)
		if err != nil {
			h.log.Error().Err(err).Str("product", p.Name).Msg("failed to read product")
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Products = append(resp.Products, newProductResponse(p.Name, p.Description, meta, isComplete[p.Name]))
	}
	if last := h.store.LastUpdated(); !last.IsZero() {
		resp.LastUpdated = &last
	}

	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleRefreshProduct handles POST /v1/products/{product}/refresh.
// It refreshes the product's extents regardless of age, recomputes all of its
// stored periods, then the global overview.
func (h *Handler) HandleRefreshProduct(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["product"]
	key := period.Key{Product: name}

	ctx, cancel := context.WithTimeout(r.Context(), config.ComputeTimeout)
	defer cancel()

	known, err := h.productListed(ctx, name)
	if err != nil {
		h.respondError(w, key, err)
		return
	}
	if !known {
		h.respondError(w, key, fmt.Errorf("%w: %q", errProductMissing, name))
		return
	}

	start := time.Now()
	added, _, err := h.store.InitProduct(ctx, name, 0)
	if err != nil {
		h.respondError(w, key, err)
		return
	}

	o, err := h.store.RefreshProduct(ctx, name)
	if err != nil {
		h.respondError(w, key, err)
		return
	}

	if _, err := h.store.Update(ctx, period.Key{}, true); err != nil {
		h.respondError(w, period.Key{}, err)
		return
	}

	h.log.Info().
		Str("product", name).
		Int("new_datasets", added).
		Int("datasets", o.DatasetCount).
		Dur("took", time.Since(start)).
		Msg("product refreshed on request")

	httpx.RespondJSON(w, http.StatusOK, RefreshResponse{
		Product:     name,
		NewDatasets: added,
		Overview:    NewOverviewResponse(key, o),
	})
}

func (h *Handler) productListed(ctx context.Context, name string) (bool, error) {
	products, err := h.records.ListProducts(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list products: %w", err)
	}
	for _, p := range products {
		if p.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (h *Handler) respondError(w http.ResponseWriter, key period.Key, err error) {
	status := httpx.StatusFor(err, summary.ErrUnknownProduct, errNotStored, errProductMissing)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("period", key.String()).Msg("request failed")
	}
	httpx.RespondError(w, status, err)
}
