package config

import "time"

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultDataDir     = "./data"
	DefaultMaxMemoryMB = 48
)

// Background task intervals
const (
	DefaultRefreshInterval  = 1 * time.Hour
	DefaultRefreshOlderThan = 30 * time.Minute
	BadgerGCInterval        = 10 * time.Minute
	RefreshTaskTimeout      = 30 * time.Minute
)

// Summary defaults
const (
	DefaultConcurrency     = 4
	DefaultProductCacheTTL = 5 * time.Minute
	DefaultGridSize        = 1.0
)

// Request timeouts
const (
	OverviewTimeout = 60 * time.Second
	ComputeTimeout  = 10 * time.Minute
	ListTimeout     = 5 * time.Second
	StatsTimeout    = 5 * time.Second
	IngestTimeout   = 5 * time.Second
	ExportTimeout   = 60 * time.Second
)

// Ingest limits
const (
	MaxDatasetsPerRequest = 1000
	MaxIngestBodyBytes    = 10 << 20
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
