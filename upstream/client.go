// Package upstream declares the interface the chain-indexing core consumes
// from the trusted native node. The wire protocol itself is out of scope;
// this package only specifies the contract plus an in-memory fake for
// tests and a thin adapter for exercising it.
package upstream

import (
	"context"
	"errors"

	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/models"
)

// ErrNotFound is returned by lookups for a hash/height/txid the upstream
// node does not know about. Local and non-fatal.
var ErrNotFound = errors.New("upstream: not found")

// ErrBroadcast wraps a failure to relay a transaction to the upstream
// node's mempool. Local and non-fatal.
var ErrBroadcast = errors.New("upstream: broadcast failed")

// BlockIndexEntry is the minimal ancestry fact the Reorg Handler walks: a
// block's parent hash and height, without its body.
type BlockIndexEntry struct {
	PrevHash kvstore.Hash
	Height   uint32
}

// Client is the upstream-node surface the Sync Driver, Reorg Handler, and
// public data-path APIs consume.
type Client interface {
	// GetGenesisBuffer returns the raw bytes of the network's genesis
	// block, used to bootstrap an empty index.
	GetGenesisBuffer(ctx context.Context) ([]byte, error)

	// GetBlock fetches a full block by hash or by height. hashOrHeight is
	// either a kvstore.Hash or a uint32.
	GetBlock(ctx context.Context, hashOrHeight any) (*models.Block, error)

	// GetBlockIndex returns the ancestry fact for hash if hash is part of
	// the upstream node's current best chain, or ErrNotFound otherwise —
	// the same active-chain-only resolution GetBlock(ctx, height) applies,
	// just keyed by hash instead of height. A hash the upstream node has
	// seen but since reorged away from reports ErrNotFound, not a stale
	// ancestry fact.
	GetBlockIndex(ctx context.Context, hash kvstore.Hash) (*BlockIndexEntry, error)

	// GetMempool lists the txids currently in the upstream node's mempool.
	GetMempool(ctx context.Context) ([]kvstore.Hash, error)

	// GetTransaction fetches the raw bytes of a transaction, optionally
	// including the mempool in the search.
	GetTransaction(ctx context.Context, txid kvstore.Hash, includeMempool bool) ([]byte, error)

	// SendTransaction relays a raw transaction and returns its txid.
	SendTransaction(ctx context.Context, raw []byte) (kvstore.Hash, error)

	// EstimateFee estimates the satoshis-per-kilobyte fee needed for
	// confirmation within the given number of blocks.
	EstimateFee(ctx context.Context, blocks int) (int64, error)

	// Tip streams the upstream node's current best-block hash every time
	// it changes. The channel is closed when ctx is cancelled.
	Tip(ctx context.Context) (<-chan kvstore.Hash, error)

	// Tx streams txids as the upstream node accepts them into its
	// mempool. The channel is closed when ctx is cancelled.
	Tx(ctx context.Context) (<-chan kvstore.Hash, error)
}
