package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/ingest"
)

// Transport defines the interface for delivering dataset batches
type Transport interface {
	Send(ctx context.Context, datasets []ingest.DatasetPayload) error
}

// StatusError is returned when the server rejects a request
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// HTTPTransport implements Transport by posting to the ingest endpoint
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP creates a new HTTP transport
func NewHTTP(endpoint, apiKey string) (*HTTPTransport, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	return &HTTPTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Send posts datasets to the ingest endpoint
func (t *HTTPTransport) Send(ctx context.Context, datasets []ingest.DatasetPayload) error {
	if len(datasets) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(ingest.IngestRequest{Datasets: datasets})
	if err != nil {
		return fmt.Errorf("failed to marshal datasets: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return CheckResponse(resp)
}

// CheckResponse returns a *StatusError for non-2xx responses, carrying the
// server's error message when the body has one.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := &StatusError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp httpx.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		statusErr.Message = errResp.Message
	}
	return statusErr
}
