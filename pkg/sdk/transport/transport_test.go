package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/ingest"
)

func payload(id string) ingest.DatasetPayload {
	return ingest.DatasetPayload{
		ID:      id,
		Product: "ls8",
		Time:    time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewHTTP(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		apiKey   string
		wantErr  bool
	}{
		{name: "without API key", endpoint: "http://localhost:8080/v1/datasets"},
		{name: "with API key", endpoint: "http://localhost:8080/v1/datasets", apiKey: "secret-key"},
		{name: "empty endpoint", endpoint: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := NewHTTP(tt.endpoint, tt.apiKey)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewHTTP() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if transport.endpoint != tt.endpoint {
				t.Errorf("endpoint = %v, want %v", transport.endpoint, tt.endpoint)
			}
			if transport.apiKey != tt.apiKey {
				t.Errorf("apiKey = %v, want %v", transport.apiKey, tt.apiKey)
			}
			if transport.client.Timeout != 10*time.Second {
				t.Errorf("timeout = %v, want %v", transport.client.Timeout, 10*time.Second)
			}
		})
	}
}

func TestHTTPTransport_Send(t *testing.T) {
	var received ingest.IngestRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		httpx.RespondJSON(w, http.StatusAccepted, ingest.IngestResponse{Status: "accepted", Count: len(received.Datasets)})
	}))
	defer server.Close()

	transport, err := NewHTTP(server.URL, "test-api-key")
	require.NoError(t, err)

	err = transport.Send(context.Background(), []ingest.DatasetPayload{payload("a"), payload("b")})
	require.NoError(t, err)
	require.Equal(t, "Bearer test-api-key", auth)
	require.Len(t, received.Datasets, 2)
	require.Equal(t, "a", received.Datasets[0].ID)
	require.True(t, received.Datasets[0].Time.Equal(payload("a").Time))
}

func TestHTTPTransport_SendEmpty(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	transport, err := NewHTTP(server.URL, "")
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), nil))
	require.Zero(t, calls.Load())
}

func TestHTTPTransport_SendRejected(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{name: "json error body", status: http.StatusBadRequest, body: `{"error":"Bad Request","message":"invalid dataset 0"}`, wantMessage: "invalid dataset 0"},
		{name: "plain body", status: http.StatusBadGateway, body: "upstream down"},
		{name: "too large", status: http.StatusRequestEntityTooLarge, body: `{"error":"Request Entity Too Large","message":"request body too large"}`, wantMessage: "request body too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			transport, err := NewHTTP(server.URL, "")
			require.NoError(t, err)

			err = transport.Send(context.Background(), []ingest.DatasetPayload{payload("a")})
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr), "error = %v", err)
			require.Equal(t, tt.status, statusErr.StatusCode)
			require.Equal(t, tt.wantMessage, statusErr.Message)
		})
	}
}

func TestHTTPTransport_SendCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	transport, err := NewHTTP(server.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = transport.Send(ctx, []ingest.DatasetPayload{payload("a")})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
