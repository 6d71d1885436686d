package sdk

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinysummary/pkg/api"
	memindex "github.com/nicktill/tinysummary/pkg/index/memory"
	"github.com/nicktill/tinysummary/pkg/ingest"
	"github.com/nicktill/tinysummary/pkg/period"
	memstore "github.com/nicktill/tinysummary/pkg/storage/memory"
	"github.com/nicktill/tinysummary/pkg/summary"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	idx := memindex.New()
	store := summary.New(memstore.New(), idx, idx, summary.WithLogger(zerolog.Nop()))

	router := mux.NewRouter()
	api.NewHandler(store, idx, zerolog.Nop()).Register(router)
	router.HandleFunc("/v1/datasets", ingest.NewHandler(idx, zerolog.Nop()).HandleIngest)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func payload(id string, day int) ingest.DatasetPayload {
	square := orb.Polygon{{{140, -30}, {141, -30}, {141, -29}, {140, -29}, {140, -30}}}
	return ingest.DatasetPayload{
		ID:        id,
		Product:   "ls8",
		Time:      time.Date(2021, 1, day, 0, 0, 0, 0, time.UTC),
		Footprint: geojson.NewGeometry(square),
		SizeBytes: 100,
		CRS:       "EPSG:4326",
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantURL string
		wantErr bool
	}{
		{name: "defaults", cfg: ClientConfig{}, wantURL: "http://localhost:8080"},
		{name: "trailing slash", cfg: ClientConfig{BaseURL: "http://summary:9000/"}, wantURL: "http://summary:9000"},
		{name: "not a URL", cfg: ClientConfig{BaseURL: "summary server"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if client.config.BaseURL != tt.wantURL {
				t.Errorf("BaseURL = %q, want %q", client.config.BaseURL, tt.wantURL)
			}
			if client.config.FlushEvery != 5*time.Second {
				t.Errorf("FlushEvery = %v, want 5s", client.config.FlushEvery)
			}
		})
	}
}

func TestClient_IngestRefreshAndRead(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	client, err := New(ClientConfig{BaseURL: server.URL, FlushEvery: time.Hour})
	require.NoError(t, err)
	require.NoError(t, client.Start(ctx))
	defer client.Stop()

	for i, day := range []int{5, 10, 28} {
		require.NoError(t, client.Add(payload(string(rune('a'+i)), day)))
	}
	require.NoError(t, client.Flush(ctx))

	products, err := client.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products.Products, 1)
	require.Equal(t, "ls8", products.Products[0].Name)
	require.False(t, products.Products[0].Initialized)

	refreshed, err := client.Refresh(ctx, "ls8")
	require.NoError(t, err)
	require.Equal(t, 3, refreshed.NewDatasets)
	require.Equal(t, 3, refreshed.Overview.DatasetCount)

	month, err := client.Overview(ctx, period.Key{Product: "ls8", Year: 2021, Month: 1}, api.ModeCached)
	require.NoError(t, err)
	require.Equal(t, 3, month.DatasetCount)
	require.Equal(t, "month", month.Granularity)

	global, err := client.Overview(ctx, period.Key{}, api.ModeCached)
	require.NoError(t, err)
	require.Equal(t, 3, global.DatasetCount)

	fc, err := client.Footprints(ctx, period.Key{Product: "ls8", Year: 2021})
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)
}

func TestClient_Errors(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	client, err := New(ClientConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Overview(ctx, period.Key{Product: "nope", Year: 2021}, api.ModeCached)
	require.True(t, IsNotFound(err), "error = %v", err)

	_, err = client.Refresh(ctx, "nope")
	require.True(t, IsNotFound(err), "error = %v", err)

	_, err = client.Overview(ctx, period.Key{Product: "ls8", Month: 3}, "")
	require.ErrorIs(t, err, period.ErrInvalidKey)

	reserved := payload("x", 1)
	reserved.Product = "_all"
	require.ErrorIs(t, client.Add(reserved), ingest.ErrReservedProduct)
	require.Zero(t, client.batcher.Pending())
}

func TestClient_StartStop(t *testing.T) {
	client, err := New(ClientConfig{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))
	require.Error(t, client.Start(ctx), "second Start")
	require.NoError(t, client.Stop())
	require.NoError(t, client.Stop())
	require.Error(t, client.Start(ctx), "restart after Stop")
}
