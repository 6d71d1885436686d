package ingest

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/nicktill/tinysummary/pkg/config"
	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/index"
	"github.com/nicktill/tinysummary/pkg/metrics"
)

// Sink receives validated datasets. Datasets are queued, not yet visible to summaries.
type Sink interface {
	Add(datasets ...index.Dataset)
}

// Handler handles dataset ingestion
type Handler struct {
	sink Sink
	log  zerolog.Logger
	now  func() time.Time
}

// NewHandler creates a new ingest handler
func NewHandler(sink Sink, logger zerolog.Logger) *Handler {
	return &Handler{
		sink: sink,
		log:  logger,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// DatasetPayload is one dataset as posted by a client
type DatasetPayload struct {
	ID        string            `json:"id" validate:"required,max=256"`
	Product   string            `json:"product" validate:"required,max=128,excludesall=/?#"`
	Time      time.Time         `json:"time" validate:"required"`
	Footprint *geojson.Geometry `json:"footprint,omitempty" validate:"-"`
	SizeBytes int64             `json:"size_bytes" validate:"gte=0"`
	Created   time.Time         `json:"created"`
	CRS       string            `json:"crs,omitempty" validate:"max=64"`
}

// IngestRequest represents the request payload
type IngestRequest struct {
	Datasets []DatasetPayload `json:"datasets"`
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status   string   `json:"status"`
	Count    int      `json:"count"`
	Products []string `json:"products,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// HandleIngest handles POST /v1/datasets.
// Accepted datasets are indexed by the next product refresh.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxIngestBodyBytes)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.RespondErrorString(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	datasets, err := h.toDatasets(req.Datasets)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	h.sink.Add(datasets...)
	metrics.DatasetsReceived.Add(float64(len(datasets)))

	products := productNames(datasets)
	h.log.Debug().
		Int("count", len(datasets)).
		Strs("products", products).
		Msg("datasets accepted")

	httpx.RespondJSON(w, http.StatusAccepted, IngestResponse{
		Status:   "accepted",
		Count:    len(datasets),
		Products: products,
	})
}

// toDatasets validates every payload. One bad payload rejects the whole request.
func (h *Handler) toDatasets(payloads []DatasetPayload) ([]index.Dataset, error) {
	if len(payloads) == 0 {
		return nil, ErrEmptyRequest
	}
	if len(payloads) > MaxDatasetsPerRequest {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyDatasets, len(payloads))
	}

	out := make([]index.Dataset, 0, len(payloads))
	for i, p := range payloads {
		if err := ValidateDataset(p); err != nil {
			return nil, fmt.Errorf("invalid dataset %d (%q): %w", i, p.ID, err)
		}
		out = append(out, h.toDataset(p))
	}
	return out, nil
}

func (h *Handler) toDataset(p DatasetPayload) index.Dataset {
	ds := index.Dataset{
		ID:        p.ID,
		Product:   p.Product,
		Time:      p.Time.UTC(),
		SizeBytes: p.SizeBytes,
		Created:   p.Created.UTC(),
		CRS:       p.CRS,
	}
	if p.Created.IsZero() {
		ds.Created = h.now()
	}
	if p.Footprint != nil {
		ds.Footprint = p.Footprint.Geometry()
	}
	return ds
}

func productNames(datasets []index.Dataset) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, ds := range datasets {
		if _, ok := seen[ds.Product]; ok {
			continue
		}
		seen[ds.Product] = struct{}{}
		names = append(names, ds.Product)
	}
	sort.Strings(names)
	return names
}
