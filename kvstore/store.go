package kvstore

import (
	"context"
	"errors"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// Hash is a 32-byte hash
// Can be SHA256 (for block/tx ids) or BLAKE3 (for index nodes)
// Aliased to chainhash.Hash from go-sdk for compatibility with transaction types
type Hash = chainhash.Hash

// ErrStoreIO wraps an underlying I/O failure from a KVStore implementation.
// Surfaced during a commit, it is escalated to fatal by the caller rather
// than retried silently.
var ErrStoreIO = errors.New("kvstore: I/O error")

// OpType distinguishes the two kinds of mutation a Batch can carry.
type OpType uint8

const (
	OpPut OpType = iota
	OpDel
)

// Op is one put-or-delete mutation within an atomic Batch.
type Op struct {
	Type  OpType
	Key   []byte
	Value []byte // unused for OpDel
}

// Put returns a put Op.
func Put(key, value []byte) Op { return Op{Type: OpPut, Key: key, Value: value} }

// Del returns a delete Op.
func Del(key []byte) Op { return Op{Type: OpDel, Key: key} }

// VisitFunc is called once per key in ascending key order during Iterate.
// Returning keepGoing=false stops iteration early without an error.
type VisitFunc func(key, value []byte) (keepGoing bool, err error)

// KVStore defines the ordered, byte-keyed, byte-valued embedded store the
// indexing engine is built on. Keys are variable-length byte slices to
// support both the 2-byte system/service prefixes and longer multihash
// keys produced by leaf indexers.
type KVStore interface {
	// Get retrieves a value by key. Returns (nil, nil) if the key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Put stores a single key-value pair outside of a batch.
	Put(ctx context.Context, key []byte, value []byte) error

	// Delete removes a single key-value pair outside of a batch.
	Delete(ctx context.Context, key []byte) error

	// Batch commits every Op atomically: either all are durable after Batch
	// returns nil, or none are.
	Batch(ctx context.Context, ops []Op) error

	// Iterate performs an ordered scan over all keys sharing prefix, calling
	// fn for each in ascending key order until fn returns keepGoing=false,
	// fn returns an error, or the scan is exhausted.
	Iterate(ctx context.Context, prefix []byte, fn VisitFunc) error

	// Close releases any resources held by the store.
	Close() error
}
