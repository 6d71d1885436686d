package badger

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/storage"
)

// overviewRecord is the stored form of an overview.
// Histograms are kept as parallel sorted arrays so encoding is deterministic.
type overviewRecord struct {
	DatasetCount int `json:"n"`

	TimelinePeriod string      `json:"tp"`
	TimelineStarts []time.Time `json:"ts,omitempty"`
	TimelineCounts []int       `json:"tc,omitempty"`

	GridCells  []string `json:"gk,omitempty"`
	GridCounts []int    `json:"gc,omitempty"`

	TimeEarliest *time.Time `json:"te,omitempty"`
	TimeLatest   *time.Time `json:"tl,omitempty"`

	// WKB encoded
	Footprint      []byte `json:"fp,omitempty"`
	FootprintCount int    `json:"fc"`

	SizeBytes     int64      `json:"sz"`
	NewestCreated *time.Time `json:"nc,omitempty"`
	CRSes         []string   `json:"crs,omitempty"`
	GenTime       time.Time  `json:"gen"`
}

func encodeOverview(o *overview.Overview) ([]byte, error) {
	rec := overviewRecord{
		DatasetCount:   o.DatasetCount,
		TimelinePeriod: o.TimelinePeriod.String(),
		FootprintCount: o.FootprintCount,
		SizeBytes:      o.SizeBytes,
		CRSes:          o.CRSes,
		GenTime:        o.SummaryGenTime.UTC(),
	}

	for _, start := range o.TimelineBuckets() {
		rec.TimelineStarts = append(rec.TimelineStarts, start.UTC())
		rec.TimelineCounts = append(rec.TimelineCounts, o.TimelineDatasetCounts[start])
	}
	for _, cell := range o.GridCells() {
		rec.GridCells = append(rec.GridCells, cell)
		rec.GridCounts = append(rec.GridCounts, o.GridDatasetCounts[cell])
	}

	if o.TimeRange != nil {
		earliest, latest := o.TimeRange.Earliest.UTC(), o.TimeRange.Latest.UTC()
		rec.TimeEarliest, rec.TimeLatest = &earliest, &latest
	}
	if !o.NewestDatasetCreationTime.IsZero() {
		created := o.NewestDatasetCreationTime.UTC()
		rec.NewestCreated = &created
	}
	if o.Footprint != nil {
		fp, err := wkb.Marshal(o.Footprint)
		if err != nil {
			return nil, err
		}
		rec.Footprint = fp
	}

	return json.Marshal(rec)
}

func decodeOverview(data []byte) (*overview.Overview, error) {
	var rec overviewRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	tp, err := period.ParseGranularity(rec.TimelinePeriod)
	if err != nil {
		return nil, err
	}

	o := overview.Empty(rec.GenTime.UTC())
	o.DatasetCount = rec.DatasetCount
	o.TimelinePeriod = tp
	o.FootprintCount = rec.FootprintCount
	o.SizeBytes = rec.SizeBytes
	o.CRSes = rec.CRSes

	for i, start := range rec.TimelineStarts {
		if i < len(rec.TimelineCounts) {
			o.TimelineDatasetCounts[start.UTC()] = rec.TimelineCounts[i]
		}
	}
	for i, cell := range rec.GridCells {
		if i < len(rec.GridCounts) {
			o.GridDatasetCounts[cell] = rec.GridCounts[i]
		}
	}

	if rec.TimeEarliest != nil && rec.TimeLatest != nil {
		o.TimeRange = &overview.TimeRange{
			Earliest: rec.TimeEarliest.UTC(),
			Latest:   rec.TimeLatest.UTC(),
		}
	}
	if rec.NewestCreated != nil {
		o.NewestDatasetCreationTime = rec.NewestCreated.UTC()
	}
	if len(rec.Footprint) > 0 {
		fp, err := wkb.Unmarshal(rec.Footprint)
		if err != nil {
			return nil, err
		}
		o.Footprint = fp
	}

	return o, nil
}

// productRecord is the stored form of product metadata
type productRecord struct {
	ID           storage.ProductID `json:"id"`
	Name         string            `json:"name"`
	DatasetCount int               `json:"n"`
	TimeEarliest *time.Time        `json:"te,omitempty"`
	TimeLatest   *time.Time        `json:"tl,omitempty"`
	LastRefresh  time.Time         `json:"refreshed"`
}

func newProductRecord(p storage.ProductSummary, id storage.ProductID, refreshed time.Time) productRecord {
	rec := productRecord{
		ID:           id,
		Name:         p.Name,
		DatasetCount: p.DatasetCount,
		LastRefresh:  refreshed,
	}
	if p.HasTimeRange() {
		earliest, latest := p.TimeEarliest.UTC(), p.TimeLatest.UTC()
		rec.TimeEarliest, rec.TimeLatest = &earliest, &latest
	}
	return rec
}

func (r *productRecord) summary() storage.ProductSummary {
	p := storage.ProductSummary{
		ID:           r.ID,
		Name:         r.Name,
		DatasetCount: r.DatasetCount,
	}
	if r.TimeEarliest != nil && r.TimeLatest != nil {
		p.TimeEarliest = r.TimeEarliest.UTC()
		p.TimeLatest = r.TimeLatest.UTC()
	}
	return p
}

func encodeProduct(rec productRecord) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeProduct(data []byte) (*productRecord, error) {
	var rec productRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
