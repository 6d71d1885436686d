package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinysummary/pkg/ingest"
	"github.com/nicktill/tinysummary/pkg/sdk/transport"
)

const sendTimeout = 10 * time.Second

// Config holds configuration for the batcher
type Config struct {
	MaxBatchSize int
	FlushEvery   time.Duration

	// OnError receives failures from background sends. Batches that fail
	// are dropped; the server indexes datasets idempotently by ID, so the
	// caller may resend them.
	OnError func(err error, datasets []ingest.DatasetPayload)
}

// Batcher batches datasets and sends them periodically
type Batcher struct {
	config    Config
	transport transport.Transport

	pending []ingest.DatasetPayload
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	sends  sync.WaitGroup

	flushing atomic.Bool // one background flush at a time
}

// New creates a new batcher. MaxBatchSize is capped at what one ingest
// request may carry.
func New(transport transport.Transport, config Config) *Batcher {
	if config.MaxBatchSize <= 0 || config.MaxBatchSize > ingest.MaxDatasetsPerRequest {
		config.MaxBatchSize = ingest.MaxDatasetsPerRequest
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = 5 * time.Second
	}
	return &Batcher{
		config:    config,
		transport: transport,
		pending:   make([]ingest.DatasetPayload, 0, config.MaxBatchSize),
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}
}

// Start starts the periodic flush loop
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.flushLoop()
	return nil
}

// Add queues a dataset, flushing in the background once a batch is full
func (b *Batcher) Add(d ingest.DatasetPayload) {
	b.mu.Lock()
	b.pending = append(b.pending, d)
	shouldFlush := len(b.pending) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.sends.Add(1)
		go func() {
			defer b.sends.Done()
			b.drain()
			b.flushing.Store(false)
		}()
	}
}

// Pending returns the number of queued datasets
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush sends every queued dataset and returns the first send error
func (b *Batcher) Flush(ctx context.Context) error {
	var firstErr error
	for {
		batch := b.take()
		if len(batch) == 0 {
			return firstErr
		}
		if err := b.send(ctx, batch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
}

// Stop stops the flush loop, waits for background sends and flushes
// what is left.
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.sends.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return b.Flush(ctx)
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.drain()
				b.flushing.Store(false)
			}
		}
	}
}

// drain sends queued batches, reporting failures through OnError
func (b *Batcher) drain() {
	for {
		batch := b.take()
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), sendTimeout)
		err := b.send(ctx, batch)
		cancel()
		if err != nil && b.config.OnError != nil {
			b.config.OnError(err, batch)
		}
	}
}

// take removes up to one batch from the queue
func (b *Batcher) take() []ingest.DatasetPayload {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(len(b.pending), b.config.MaxBatchSize)
	if n == 0 {
		return nil
	}
	batch := make([]ingest.DatasetPayload, n)
	copy(batch, b.pending[:n])
	b.pending = append(b.pending[:0], b.pending[n:]...)
	return batch
}

func (b *Batcher) send(ctx context.Context, batch []ingest.DatasetPayload) error {
	return b.transport.Send(ctx, batch)
}
