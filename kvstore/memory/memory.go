package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/shruggr/chainindex/kvstore"
)

// Store is an in-memory implementation of kvstore.KVStore.
// Suitable for testing and the reorg-correctness property tests, which need
// two full chain states (branch A and branch B) side by side without disk.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory KVStore
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Get retrieves a value by key
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, val...), nil
}

// Put stores a key-value pair
func (s *Store) Put(ctx context.Context, key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[string(key)] = append([]byte{}, value...)
	return nil
}

// Delete removes a key-value pair
func (s *Store) Delete(ctx context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, string(key))
	return nil
}

// Batch applies every op under a single lock acquisition. Since the map
// mutation itself cannot partially fail, this is trivially atomic.
func (s *Store) Batch(ctx context.Context, ops []kvstore.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		switch op.Type {
		case kvstore.OpPut:
			s.data[string(op.Key)] = append([]byte{}, op.Value...)
		case kvstore.OpDel:
			delete(s.data, string(op.Key))
		}
	}
	return nil
}

// Iterate performs an ordered scan over all keys sharing prefix.
func (s *Store) Iterate(ctx context.Context, prefix []byte, fn kvstore.VisitFunc) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		snapshot[k] = append([]byte{}, s.data[k]...)
	}
	s.mu.RUnlock()

	for _, k := range keys {
		keepGoing, err := fn([]byte(k), snapshot[k])
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

// Close releases any resources
func (s *Store) Close() error {
	return nil
}
