package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/storage"
)

var (
	productPrefix  = []byte("p/")
	overviewPrefix = []byte("o/")
	productSeqKey  = []byte("seq/product")
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db       *badger.DB
	seq      *badger.Sequence
	now      func() time.Time
	inMemory bool
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	// Recommended: 64-128 MB for local dev, 256-512 MB for production
	MaxMemoryMB int64

	// Clock used to stamp product refresh times (default time.Now)
	Clock func() time.Time
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	// BadgerDB defaults: 64 MB memtable, 5 x 64 MB = 320 MB total.
	// Overview rows are small and few, 16 MB memtable is plenty.
	var memTableSize int64
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	} else {
		memTableSize = 16 * 1024 * 1024
	}

	// Block and index caches are unbounded unless set
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1). // Upserts only, no history

		WithMemTableSize(memTableSize).
		WithNumMemtables(3).

		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).

		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2). // Badger requires 0 or at least 2

		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of default 2GB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(productSeqKey, 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open product sequence: %w", err)
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Storage{db: db, seq: seq, now: now, inMemory: cfg.InMemory}, nil
}

// run executes fn off the caller's goroutine so a cancelled context returns
// immediately even while badger is blocked.
func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// GetOverview reads one overview row
func (s *Storage) GetOverview(ctx context.Context, id storage.ProductID, anchor time.Time, g period.Granularity) (*overview.Overview, error) {
	var out *overview.Overview
	err := s.run(ctx, "get overview", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(overviewKey(id, anchor, g))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				o, err := decodeOverview(val)
				if err != nil {
					return fmt.Errorf("failed to decode overview: %w", err)
				}
				out = o
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutOverview upserts one overview row
func (s *Storage) PutOverview(ctx context.Context, id storage.ProductID, anchor time.Time, g period.Granularity, o *overview.Overview) error {
	value, err := encodeOverview(o)
	if err != nil {
		return fmt.Errorf("failed to encode overview: %w", err)
	}
	key := overviewKey(id, anchor, g)

	return s.run(ctx, "put overview", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, value)
		})
	})
}

// GetProduct reads product metadata and computes its refresh age
func (s *Storage) GetProduct(ctx context.Context, name string) (*storage.ProductSummary, error) {
	var out *storage.ProductSummary
	err := s.run(ctx, "get product", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			rec, err := getProduct(txn, name)
			if err != nil || rec == nil {
				return err
			}
			p := rec.summary()
			p.LastRefreshAge = s.now().Sub(rec.LastRefresh)
			out = &p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutProduct upserts product metadata. New names draw an ID from the product sequence.
func (s *Storage) PutProduct(ctx context.Context, p storage.ProductSummary) (storage.ProductID, error) {
	var id storage.ProductID
	err := s.run(ctx, "put product", func() error {
		for {
			err := s.db.Update(func(txn *badger.Txn) error {
				existing, err := getProduct(txn, p.Name)
				if err != nil {
					return err
				}
				if existing != nil {
					id = existing.ID
				} else {
					next, err := s.seq.Next()
					if err != nil {
						return fmt.Errorf("failed to allocate product id: %w", err)
					}
					// Sequences start at 0, which is reserved for global rows
					id = storage.ProductID(next + 1)
				}

				rec := newProductRecord(p, id, s.now())
				value, err := encodeProduct(rec)
				if err != nil {
					return fmt.Errorf("failed to encode product: %w", err)
				}
				return txn.Set(productKey(p.Name), value)
			})
			if errors.Is(err, badger.ErrConflict) {
				continue
			}
			return err
		}
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to release product sequence: %w", err)
	}
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// This reclaims disk space from overwritten overview rows
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded.
// In-memory stores have no value log and never collect.
func (s *Storage) RunGC(discardRatio float64) error {
	if s.inMemory {
		return nil
	}
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	err := s.run(ctx, "stats", func() error {
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++

				// Check context periodically (every 1000 iterations)
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				key := it.Item().Key()
				switch {
				case bytes.HasPrefix(key, productPrefix):
					stats.Products++
				case bytes.HasPrefix(key, overviewPrefix):
					stats.Overviews++
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		lsmSize, vlogSize := s.db.Size()
		stats.SizeBytes = uint64(lsmSize + vlogSize)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func getProduct(txn *badger.Txn, name string) (*productRecord, error) {
	item, err := txn.Get(productKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec *productRecord
	err = item.Value(func(val []byte) error {
		r, err := decodeProduct(val)
		if err != nil {
			return fmt.Errorf("failed to decode product %q: %w", name, err)
		}
		rec = r
		return nil
	})
	return rec, err
}

func productKey(name string) []byte {
	return append(append([]byte(nil), productPrefix...), name...)
}

// overviewKey creates a sortable key
// Format: ["o/"][product id (8 bytes)][anchor YYYYMMDD (8 bytes)][granularity (1 byte)]
func overviewKey(id storage.ProductID, anchor time.Time, g period.Granularity) []byte {
	key := make([]byte, 0, len(overviewPrefix)+17)
	key = append(key, overviewPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(id))
	key = anchor.UTC().AppendFormat(key, "20060102")
	return append(key, byte(g))
}
