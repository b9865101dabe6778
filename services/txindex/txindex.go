// Package txindex is a serial BlockHandler that stores each block's
// transactions keyed by txid, under the two-byte prefix schema.Allocator
// assigns it.
package txindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/models"
	"github.com/shruggr/chainindex/schema"
)

// ErrNotFound reports that no indexed transaction matches the requested
// txid. Local and non-fatal.
var ErrNotFound = errors.New("txindex: transaction not found")

// Name is this service's registry name and schema.Allocator key.
const Name = "txindex"

// Service indexes raw transaction bytes by txid, so that a public API
// layer can answer getTransaction without re-fetching from the upstream
// node for every already-indexed transaction.
type Service struct {
	store     kvstore.KVStore
	allocator *schema.Allocator
	prefix    []byte
}

// New creates a Service. Start must run before HandleBlock or Get, so the
// service has its assigned prefix.
func New(store kvstore.KVStore, allocator *schema.Allocator) *Service {
	return &Service{store: store, allocator: allocator}
}

func (s *Service) Name() string          { return Name }
func (s *Service) Dependencies() []string { return nil }

func (s *Service) Start(ctx context.Context) error {
	prefix, err := s.allocator.AssignPrefix(ctx, Name)
	if err != nil {
		return fmt.Errorf("txindex: assign prefix: %w", err)
	}
	s.prefix = prefix[:]
	return nil
}

func (s *Service) Stop(ctx context.Context) error { return nil }

// HandleBlock indexes every transaction on connect, and removes them again
// on disconnect, so a reorg leaves no stale entries behind.
func (s *Service) HandleBlock(ctx context.Context, block *models.Block, connect bool) ([]kvstore.Op, error) {
	ops := make([]kvstore.Op, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		key := s.key(tx.ID)
		if connect {
			ops = append(ops, kvstore.Put(key, tx.Raw))
		} else {
			ops = append(ops, kvstore.Del(key))
		}
	}
	return ops, nil
}

// Get returns the raw bytes of a previously indexed transaction, or
// ErrNotFound.
func (s *Service) Get(ctx context.Context, txid kvstore.Hash) ([]byte, error) {
	raw, err := s.store.Get(ctx, s.key(txid))
	if err != nil {
		return nil, fmt.Errorf("txindex: get %x: %w", txid, err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (s *Service) key(txid kvstore.Hash) []byte {
	key := make([]byte, 0, len(s.prefix)+32)
	key = append(key, s.prefix...)
	key = append(key, txid[:]...)
	return key
}
