package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
)

// ErrNoOverview is returned when nothing is stored for the period and computing was not requested
var ErrNoOverview = errors.New("no overview stored for period")

// Source provides overviews to export
type Source interface {
	Get(ctx context.Context, key period.Key) (*overview.Overview, error)
	GetOrUpdate(ctx context.Context, key period.Key) (*overview.Overview, error)
}

// Exporter handles exporting overview histograms to various formats
type Exporter struct {
	source Source
}

// NewExporter creates a new exporter
func NewExporter(source Source) *Exporter {
	return &Exporter{source: source}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	Key period.Key

	// Compute the overview when it is not stored
	Compute bool

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	Period          string    `json:"period"`
	DatasetCount    int       `json:"dataset_count"`
	TimelineBuckets int       `json:"timeline_buckets"`
	GridCells       int       `json:"grid_cells"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Document is the JSON export layout
type Document struct {
	Metadata Metadata      `json:"metadata"`
	Timeline []TimelineRow `json:"timeline"`
	Grid     []GridRow     `json:"grid"`
}

type Metadata struct {
	ExportedAt     time.Time           `json:"exported_at"`
	Period         string              `json:"period"`
	DatasetCount   int                 `json:"dataset_count"`
	TimelinePeriod string              `json:"timeline_period"`
	TimeRange      *overview.TimeRange `json:"time_range"`
	SummaryGenTime time.Time           `json:"summary_gen_time"`
	Format         string              `json:"format"`
	Version        string              `json:"version"`
}

type TimelineRow struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

type GridRow struct {
	Cell  string `json:"cell"`
	Count int    `json:"count"`
}

func (e *Exporter) load(ctx context.Context, opts ExportOptions) (*overview.Overview, error) {
	var (
		o   *overview.Overview
		err error
	)
	if opts.Compute {
		o, err = e.source.GetOrUpdate(ctx, opts.Key)
	} else {
		o, err = e.source.Get(ctx, opts.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load overview %s: %w", opts.Key, err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoOverview, opts.Key)
	}
	return o, nil
}

// ExportToJSON exports an overview's timeline and grid histograms as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	o, err := e.load(ctx, opts)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt:     time.Now().UTC(),
			Period:         opts.Key.String(),
			DatasetCount:   o.DatasetCount,
			TimelinePeriod: o.TimelinePeriod.String(),
			TimeRange:      o.TimeRange,
			SummaryGenTime: o.SummaryGenTime,
			Format:         "json",
			Version:        "1.0",
		},
		Timeline: timelineRows(o),
		Grid:     gridRows(o),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return result(opts, o, "json", doc.Metadata.ExportedAt), nil
}

// ExportToCSV exports an overview's histograms as CSV rows of (section, bucket, count)
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	o, err := e.load(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"section", "bucket", "count"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range timelineRows(o) {
		if err := writer.Write([]string{"timeline", row.Start.Format("2006-01-02"), strconv.Itoa(row.Count)}); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	for _, row := range gridRows(o) {
		if err := writer.Write([]string{"grid", row.Cell, strconv.Itoa(row.Count)}); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return result(opts, o, "csv", time.Now().UTC()), nil
}

func timelineRows(o *overview.Overview) []TimelineRow {
	rows := make([]TimelineRow, 0, len(o.TimelineDatasetCounts))
	for _, start := range o.TimelineBuckets() {
		rows = append(rows, TimelineRow{Start: start, Count: o.TimelineDatasetCounts[start]})
	}
	return rows
}

func gridRows(o *overview.Overview) []GridRow {
	rows := make([]GridRow, 0, len(o.GridDatasetCounts))
	for _, cell := range o.GridCells() {
		rows = append(rows, GridRow{Cell: cell, Count: o.GridDatasetCounts[cell]})
	}
	return rows
}

func result(opts ExportOptions, o *overview.Overview, format string, at time.Time) *ExportResult {
	return &ExportResult{
		Period:          opts.Key.String(),
		DatasetCount:    o.DatasetCount,
		TimelineBuckets: len(o.TimelineDatasetCounts),
		GridCells:       len(o.GridDatasetCounts),
		Format:          format,
		ExportedAt:      at,
	}
}
