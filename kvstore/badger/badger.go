package badger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/shruggr/chainindex/kvstore"
)

// DefaultMaxOpenFiles is the default ceiling on open SSTable file handles.
const DefaultMaxOpenFiles = 200

// Store is a BadgerDB-backed implementation of kvstore.KVStore
type Store struct {
	db *badger.DB
}

// Config holds configuration for BadgerDB
type Config struct {
	DataDir      string // Directory for data storage
	MaxOpenFiles int    // ceiling on open SSTable file handles; 0 means DefaultMaxOpenFiles
	Logger       *slog.Logger
}

// New creates a new BadgerDB-backed KVStore
func New(config *Config) (*Store, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required")
	}

	maxOpenFiles := config.MaxOpenFiles
	if maxOpenFiles <= 0 {
		maxOpenFiles = DefaultMaxOpenFiles
	}

	opts := badger.DefaultOptions(config.DataDir)
	opts = opts.WithMaxOpenFiles(maxOpenFiles)
	if config.Logger != nil {
		opts = opts.WithLogger(&slogAdapter{l: config.Logger})
	} else {
		opts = opts.WithLogger(nil) // disable badger's verbose default logging
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger db: %v", kvstore.ErrStoreIO, err)
	}

	return &Store{db: db}, nil
}

// Get retrieves a value by key
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...) // copy out of badger's arena before it's reused
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", kvstore.ErrStoreIO, err)
	}

	return value, nil
}

// Put stores a key-value pair
func (s *Store) Put(ctx context.Context, key, value []byte) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}); err != nil {
		return fmt.Errorf("%w: put: %v", kvstore.ErrStoreIO, err)
	}
	return nil
}

// Delete removes a key-value pair
func (s *Store) Delete(ctx context.Context, key []byte) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return fmt.Errorf("%w: delete: %v", kvstore.ErrStoreIO, err)
	}
	return nil
}

// Batch commits every op in one atomic BadgerDB transaction. Badger aborts
// the whole transaction on any error, so partial application is impossible.
func (s *Store) Batch(ctx context.Context, ops []kvstore.Op) error {
	if len(ops) == 0 {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			switch op.Type {
			case kvstore.OpPut:
				if err := txn.Set(op.Key, op.Value); err != nil {
					return err
				}
			case kvstore.OpDel:
				if err := txn.Delete(op.Key); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: batch: %v", kvstore.ErrStoreIO, err)
	}
	return nil
}

// Iterate performs an ordered scan over all keys sharing prefix.
func (s *Store) Iterate(ctx context.Context, prefix []byte, fn kvstore.VisitFunc) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := append([]byte{}, item.KeyCopy(nil)...)
			var value []byte
			if err := item.Value(func(val []byte) error {
				value = append([]byte{}, val...)
				return nil
			}); err != nil {
				return err
			}

			keepGoing, err := fn(key, value)
			if err != nil {
				return err
			}
			if !keepGoing {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: iterate: %v", kvstore.ErrStoreIO, err)
	}
	return nil
}

// Close releases all BadgerDB resources
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunGC runs BadgerDB garbage collection
// Call this periodically to reclaim space from deleted/updated entries
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err == badger.ErrNoRewrite {
		return nil // not an error, just means no rewrite was needed
	}
	return err
}

// slogAdapter adapts *slog.Logger to badger's internal Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Errorf(format string, args ...interface{})   { a.l.Error(fmt.Sprintf(format, args...)) }
func (a *slogAdapter) Warningf(format string, args ...interface{}) { a.l.Warn(fmt.Sprintf(format, args...)) }
func (a *slogAdapter) Infof(format string, args ...interface{})    { a.l.Info(fmt.Sprintf(format, args...)) }
func (a *slogAdapter) Debugf(format string, args ...interface{})   { a.l.Debug(fmt.Sprintf(format, args...)) }
