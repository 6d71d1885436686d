package export

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicktill/tinysummary/pkg/config"
	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/summary"
)

// Handler handles export HTTP endpoints
type Handler struct {
	exporter *Exporter
	log      zerolog.Logger
}

// NewHandler creates a new export handler
func NewHandler(source Source, log zerolog.Logger) *Handler {
	return &Handler{
		exporter: NewExporter(source),
		log:      log,
	}
}

// HandleExport handles GET /v1/export/{product}/{year}/{month}/{day}
// Query params:
//   - format: "json" or "csv" (default: json)
//   - compute: "true" to compute the overview when it is not stored
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	key, err := httpx.KeyFromRequest(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	opts := ExportOptions{
		Key:     key,
		Compute: query.Get("compute") == "true",
		Format:  format,
	}

	timeout := config.ExportTimeout
	if opts.Compute {
		timeout = config.ComputeTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	// Buffered so a failed export can still answer with a clean error
	var buf bytes.Buffer
	var result *ExportResult
	if format == "json" {
		result, err = h.exporter.ExportToJSON(ctx, &buf, opts)
	} else {
		result, err = h.exporter.ExportToCSV(ctx, &buf, opts)
	}
	if err != nil {
		h.log.Warn().Err(err).Str("period", key.String()).Msg("export failed")
		httpx.RespondError(w, httpx.StatusFor(err, ErrNoOverview, summary.ErrUnknownProduct), err)
		return
	}

	filename := exportFilename(key, format)
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())

	h.log.Info().
		Str("period", result.Period).
		Str("format", format).
		Int("timeline_buckets", result.TimelineBuckets).
		Int("grid_cells", result.GridCells).
		Msg("overview exported")
}

// exportFilename names the download, e.g. summary-ls8-2021-03-20240101-120000.csv
func exportFilename(key period.Key, format string) string {
	name := "summary-" + httpx.ProductSegment(key)
	switch key.Granularity() {
	case period.Year:
		name += fmt.Sprintf("-%04d", key.Year)
	case period.Month:
		name += fmt.Sprintf("-%04d-%02d", key.Year, key.Month)
	case period.Day:
		name += fmt.Sprintf("-%04d-%02d-%02d", key.Year, key.Month, key.Day)
	}
	return name + "-" + time.Now().UTC().Format("20060102-150405") + "." + format
}
