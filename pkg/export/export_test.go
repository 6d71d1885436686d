package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
)

// fakeSource serves a fixed overview for one key and computes another on demand
type fakeSource struct {
	stored   map[period.Key]*overview.Overview
	computed map[period.Key]*overview.Overview
}

func (f *fakeSource) Get(ctx context.Context, key period.Key) (*overview.Overview, error) {
	return f.stored[key], nil
}

func (f *fakeSource) GetOrUpdate(ctx context.Context, key period.Key) (*overview.Overview, error) {
	if o, ok := f.stored[key]; ok {
		return o, nil
	}
	return f.computed[key], nil
}

func sampleOverview() *overview.Overview {
	o := overview.Empty(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	o.DatasetCount = 5
	o.TimelinePeriod = period.Month
	o.TimelineDatasetCounts[time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)] = 2
	o.TimelineDatasetCounts[time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)] = 3
	o.GridDatasetCounts["14_-3"] = 4
	o.GridDatasetCounts["13_-3"] = 1
	return o
}

func newSource() *fakeSource {
	return &fakeSource{
		stored: map[period.Key]*overview.Overview{
			{Product: "ls8", Year: 2021}: sampleOverview(),
		},
		computed: map[period.Key]*overview.Overview{
			{Product: "ls8", Year: 2020}: overview.Empty(time.Now()),
		},
	}
}

func TestExportToJSON(t *testing.T) {
	exporter := NewExporter(newSource())
	buf := &bytes.Buffer{}

	result, err := exporter.ExportToJSON(context.Background(), buf, ExportOptions{
		Key:    period.Key{Product: "ls8", Year: 2021},
		Format: "json",
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if result.DatasetCount != 5 || result.TimelineBuckets != 2 || result.GridCells != 2 {
		t.Errorf("Unexpected result: %+v", result)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("Failed to parse exported JSON: %v", err)
	}

	if doc.Metadata.Period != "ls8/2021" {
		t.Errorf("Expected period ls8/2021, got %s", doc.Metadata.Period)
	}
	if doc.Metadata.TimelinePeriod != "month" {
		t.Errorf("Expected month timeline, got %s", doc.Metadata.TimelinePeriod)
	}
	if len(doc.Timeline) != 2 || doc.Timeline[0].Count != 3 || doc.Timeline[1].Count != 2 {
		t.Errorf("Timeline not in ascending order: %+v", doc.Timeline)
	}
	if len(doc.Grid) != 2 || doc.Grid[0].Cell != "13_-3" {
		t.Errorf("Grid not sorted: %+v", doc.Grid)
	}
}

func TestExportToCSV(t *testing.T) {
	exporter := NewExporter(newSource())
	buf := &bytes.Buffer{}

	_, err := exporter.ExportToCSV(context.Background(), buf, ExportOptions{
		Key:    period.Key{Product: "ls8", Year: 2021},
		Format: "csv",
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	records, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}

	want := [][]string{
		{"section", "bucket", "count"},
		{"timeline", "2021-01-01", "3"},
		{"timeline", "2021-03-01", "2"},
		{"grid", "13_-3", "1"},
		{"grid", "14_-3", "4"},
	}
	if len(records) != len(want) {
		t.Fatalf("Expected %d rows, got %d: %v", len(want), len(records), records)
	}
	for i := range want {
		if strings.Join(records[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("Row %d = %v, want %v", i, records[i], want[i])
		}
	}
}

func TestExport_MissingOverview(t *testing.T) {
	exporter := NewExporter(newSource())

	_, err := exporter.ExportToJSON(context.Background(), &bytes.Buffer{}, ExportOptions{
		Key: period.Key{Product: "ls8", Year: 2020},
	})
	if !errors.Is(err, ErrNoOverview) {
		t.Errorf("Expected ErrNoOverview, got %v", err)
	}

	// Computing fills the gap
	result, err := exporter.ExportToJSON(context.Background(), &bytes.Buffer{}, ExportOptions{
		Key:     period.Key{Product: "ls8", Year: 2020},
		Compute: true,
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.DatasetCount != 0 {
		t.Errorf("Expected empty overview, got %d datasets", result.DatasetCount)
	}
}

func newRouter() *mux.Router {
	h := NewHandler(newSource(), zerolog.Nop())
	router := mux.NewRouter()
	for _, route := range httpx.PeriodRoutes("/v1/export") {
		router.HandleFunc(route, h.HandleExport).Methods(http.MethodGet)
	}
	return router
}

func TestHandleExport(t *testing.T) {
	router := newRouter()

	tests := []struct {
		url        string
		wantStatus int
		wantType   string
	}{
		{"/v1/export/ls8/2021", http.StatusOK, "application/json"},
		{"/v1/export/ls8/2021?format=csv", http.StatusOK, "text/csv"},
		{"/v1/export/ls8/2021?format=xml", http.StatusBadRequest, "application/json"},
		{"/v1/export/ls8/2020", http.StatusNotFound, "application/json"},
		{"/v1/export/ls8/2020?compute=true", http.StatusOK, "application/json"},
		{"/v1/export/ls8/2021/13", http.StatusBadRequest, "application/json"},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.url, nil))

		if w.Code != tt.wantStatus {
			t.Errorf("GET %s: status %d, want %d (%s)", tt.url, w.Code, tt.wantStatus, w.Body.String())
		}
		if got := w.Header().Get("Content-Type"); got != tt.wantType {
			t.Errorf("GET %s: content type %q, want %q", tt.url, got, tt.wantType)
		}
	}
}

func TestHandleExport_Filename(t *testing.T) {
	router := newRouter()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/export/ls8/2021?format=csv", nil))

	disposition := w.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disposition, "attachment; filename=summary-ls8-2021-") || !strings.HasSuffix(disposition, ".csv") {
		t.Errorf("Unexpected Content-Disposition: %s", disposition)
	}
}
