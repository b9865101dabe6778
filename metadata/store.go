package metadata

import (
	"context"

	"github.com/shruggr/chainindex/kvstore"
)

// BlockStatus distinguishes a main-chain block from one disconnected by a
// reorg. Disconnects leave the tip naming a real block, but metadata about
// the disconnected suffix is retained for a bounded depth.
type BlockStatus string

const (
	StatusMain   BlockStatus = "main"
	StatusOrphan BlockStatus = "orphan"
)

// BlockMeta contains minimal block metadata for height tracking.
// Indexer-owned keys live in the KVStore under each service's assigned
// prefix, and block headers are not persisted; this store only tracks
// enough to answer "what is the subtree layout of block at height H" and
// "is this block still on the main chain" without re-deriving it from the
// upstream node.
type BlockMeta struct {
	Height     uint64
	BlockHash  kvstore.Hash
	MerkleRoot kvstore.Hash
	TxCount    uint64
	Status     BlockStatus
	Timestamp  int64
}

// SubtreeMeta records one subtree's position within a block's layout.
type SubtreeMeta struct {
	MerkleRoot        kvstore.Hash
	SubtreeIndex      uint32
	SubtreeMerkleRoot kvstore.Hash
	TxCount           uint32
	IndexRoot         []byte
	TxTreeRoot        []byte
}

// Store defines the interface for storing blockchain metadata beyond the
// single tip record chainstate tracks. Implementations use SQLite or other
// relational databases; it is consulted by the Reorg Handler for orphan
// bookkeeping but is not itself part of the atomic block commit — it is
// best-effort housekeeping, not a consistency boundary.
type Store interface {
	// PutBlock stores block metadata with its subtree layout atomically.
	PutBlock(ctx context.Context, block *BlockMeta, subtrees []*SubtreeMeta) error

	// GetBlock retrieves main-chain block metadata by height.
	GetBlock(ctx context.Context, height uint64) (*BlockMeta, error)

	// GetBlockByHash retrieves block metadata by block hash, regardless of
	// status.
	GetBlockByHash(ctx context.Context, blockHash kvstore.Hash) (*BlockMeta, error)

	// GetBlockByMerkleRoot retrieves block metadata by merkle root.
	GetBlockByMerkleRoot(ctx context.Context, merkleRoot kvstore.Hash) (*BlockMeta, error)

	// GetSubtrees retrieves all subtrees for a block, ordered by index.
	GetSubtrees(ctx context.Context, merkleRoot kvstore.Hash) ([]*SubtreeMeta, error)

	// MarkOrphan marks main-chain blocks at height as orphaned, called by
	// the Reorg Handler as it disconnects the local suffix.
	MarkOrphan(ctx context.Context, height uint64) error

	// CleanupOrphans removes orphaned blocks older than depth below
	// currentHeight, bounding how long disconnected metadata is retained.
	CleanupOrphans(ctx context.Context, currentHeight uint64, depth uint64) error

	// GetLatestBlock returns the highest main-chain block stored.
	GetLatestBlock(ctx context.Context) (*BlockMeta, error)

	// Close releases any resources.
	Close() error
}
