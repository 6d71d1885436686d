package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"github.com/nicktill/tinysummary/pkg/api"
	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/ingest"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/sdk/batch"
	"github.com/nicktill/tinysummary/pkg/sdk/transport"
)

// ClientConfig holds configuration for the summary client
type ClientConfig struct {
	BaseURL      string        `json:"base_url"`
	APIKey       string        `json:"api_key"`
	FlushEvery   time.Duration `json:"flush_every"`
	MaxBatchSize int           `json:"max_batch_size"`

	// OnError receives datasets dropped by a failed background send
	OnError func(err error, datasets []ingest.DatasetPayload) `json:"-"`
}

// Client ships datasets to a summary server and reads its overviews
type Client struct {
	config  ClientConfig
	http    *http.Client
	batcher *batch.Batcher

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a new client
func New(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = 5 * time.Second
	}

	trans, err := transport.NewHTTP(cfg.BaseURL+"/v1/datasets", cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	return &Client{
		config: cfg,
		// Uncached rollups can take a while
		http: &http.Client{Timeout: 5 * time.Minute},
		batcher: batch.New(trans, batch.Config{
			MaxBatchSize: cfg.MaxBatchSize,
			FlushEvery:   cfg.FlushEvery,
			OnError:      cfg.OnError,
		}),
	}, nil
}

// Start begins periodic delivery of added datasets
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.stopped {
		return fmt.Errorf("client already started")
	}
	if err := c.batcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start batcher: %w", err)
	}
	c.started = true
	return nil
}

// Stop stops the client and delivers remaining datasets. A stopped
// client cannot be restarted.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	c.started, c.stopped = false, true

	if err := c.batcher.Stop(); err != nil {
		return fmt.Errorf("failed to flush datasets: %w", err)
	}
	return nil
}

// Add validates d and queues it for delivery. Datasets the server
// would reject are refused here.
func (c *Client) Add(d ingest.DatasetPayload) error {
	if err := ingest.ValidateDataset(d); err != nil {
		return fmt.Errorf("invalid dataset %q: %w", d.ID, err)
	}
	c.batcher.Add(d)
	return nil
}

// Flush delivers every queued dataset now
func (c *Client) Flush(ctx context.Context) error {
	return c.batcher.Flush(ctx)
}

// Overview fetches the overview for key. mode is one of api.ModeCached,
// api.ModeCompute or api.ModeRefresh; empty uses the server default.
func (c *Client) Overview(ctx context.Context, key period.Key, mode string) (*api.OverviewResponse, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	query := url.Values{}
	if mode != "" {
		query.Set("mode", mode)
	}

	var resp api.OverviewResponse
	if err := c.do(ctx, http.MethodGet, httpx.KeyPath("/v1/overview", key), query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Footprints fetches the dataset footprints within key's period
func (c *Client) Footprints(ctx context.Context, key period.Key) (*geojson.FeatureCollection, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	if err := c.do(ctx, http.MethodGet, httpx.KeyPath("/v1/footprints", key), nil, fc); err != nil {
		return nil, err
	}
	return fc, nil
}

// Products lists the products known to the server
func (c *Client) Products(ctx context.Context) (*api.ProductsResponse, error) {
	var resp api.ProductsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/products", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh asks the server to index product's new datasets and recompute
// its overviews.
func (c *Client) Refresh(ctx context.Context, product string) (*api.RefreshResponse, error) {
	var resp api.RefreshResponse
	path := "/v1/products/" + url.PathEscape(product) + "/refresh"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	target := c.config.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if err := transport.CheckResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var statusErr *transport.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
