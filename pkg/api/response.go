package api

import (
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/storage"
)

// TimelineBucket is one timeline histogram entry
type TimelineBucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// OverviewResponse is the JSON representation of an overview
type OverviewResponse struct {
	Product     string `json:"product"`
	Period      string `json:"period"`
	Granularity string `json:"granularity"`

	DatasetCount int                 `json:"dataset_count"`
	TimeRange    *overview.TimeRange `json:"time_range"`

	TimelinePeriod string           `json:"timeline_period"`
	Timeline       []TimelineBucket `json:"timeline"`
	Grid           map[string]int   `json:"grid"`

	Footprint      *geojson.Geometry `json:"footprint"`
	FootprintCount int               `json:"footprint_count"`

	SizeBytes                 int64      `json:"size_bytes"`
	NewestDatasetCreationTime *time.Time `json:"newest_dataset_creation_time,omitempty"`
	CRSes                     []string   `json:"crses"`
	GeneratedAt               time.Time  `json:"generated_at"`
}

// NewOverviewResponse converts an overview for key
func NewOverviewResponse(key period.Key, o *overview.Overview) OverviewResponse {
	resp := OverviewResponse{
		Product:        httpx.ProductSegment(key),
		Period:         key.String(),
		Granularity:    key.Granularity().String(),
		DatasetCount:   o.DatasetCount,
		TimeRange:      o.TimeRange,
		TimelinePeriod: o.TimelinePeriod.String(),
		Timeline:       make([]TimelineBucket, 0, len(o.TimelineDatasetCounts)),
		Grid:           o.GridDatasetCounts,
		FootprintCount: o.FootprintCount,
		SizeBytes:      o.SizeBytes,
		CRSes:          o.CRSes,
		GeneratedAt:    o.SummaryGenTime,
	}
	if resp.Grid == nil {
		resp.Grid = map[string]int{}
	}
	if resp.CRSes == nil {
		resp.CRSes = []string{}
	}
	for _, start := range o.TimelineBuckets() {
		resp.Timeline = append(resp.Timeline, TimelineBucket{Start: start, Count: o.TimelineDatasetCounts[start]})
	}
	if o.Footprint != nil {
		resp.Footprint = geojson.NewGeometry(o.Footprint)
	}
	if !o.NewestDatasetCreationTime.IsZero() {
		t := o.NewestDatasetCreationTime
		resp.NewestDatasetCreationTime = &t
	}
	return resp
}

// ProductResponse describes one product and its refresh state
type ProductResponse struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// False until the product's extents were first refreshed
	Initialized  bool       `json:"initialized"`
	Complete     bool       `json:"complete"`
	DatasetCount int        `json:"dataset_count"`
	TimeEarliest *time.Time `json:"time_earliest,omitempty"`
	TimeLatest   *time.Time `json:"time_latest,omitempty"`

	LastRefreshAgeSeconds *float64 `json:"last_refresh_age_seconds,omitempty"`
}

func newProductResponse(name, description string, p *storage.ProductSummary, complete bool) ProductResponse {
	resp := ProductResponse{Name: name, Description: description, Complete: complete}
	if p == nil {
		return resp
	}
	resp.Initialized = true
	resp.DatasetCount = p.DatasetCount
	if p.HasTimeRange() {
		earliest, latest := p.TimeEarliest, p.TimeLatest
		resp.TimeEarliest = &earliest
		resp.TimeLatest = &latest
	}
	age := p.LastRefreshAge.Seconds()
	resp.LastRefreshAgeSeconds = &age
	return resp
}

// ProductsResponse is returned by GET /v1/products
type ProductsResponse struct {
	Products    []ProductResponse `json:"products"`
	LastUpdated *time.Time        `json:"last_updated,omitempty"`
}

// RefreshResponse is returned by POST /v1/products/{product}/refresh
type RefreshResponse struct {
	Product     string           `json:"product"`
	NewDatasets int              `json:"new_datasets"`
	Overview    OverviewResponse `json:"overview"`
}
