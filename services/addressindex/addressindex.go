// Package addressindex is a ConcurrentBlockHandler that classifies each
// transaction by a coarse output-value bucket — a stand-in domain term,
// since the core Transaction model carries no script/address data — and
// builds a multihash-addressed index tree over those terms using the same
// merkle/treebuilder machinery a real script-address indexer would use for
// its own terms.
package addressindex

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/shruggr/chainindex/cache"
	cachememory "github.com/shruggr/chainindex/cache/memory"
	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/kvstore/memory"
	"github.com/shruggr/chainindex/merkle"
	"github.com/shruggr/chainindex/models"
	"github.com/shruggr/chainindex/multihash"
	"github.com/shruggr/chainindex/schema"
	"github.com/shruggr/chainindex/treebuilder"
)

// Name is this service's registry name and schema.Allocator key.
const Name = "addressindex"

const termKeyValueBucket = "value_bucket"

// bucket value labels, ordered so their boundaries read the way a real
// denomination-based leaf indexer's would.
var bucketBounds = []struct {
	maxSats int64
	label   string
}{
	{1000, "dust"},
	{100_000, "small"},
	{10_000_000, "medium"},
	{1<<63 - 1, "large"},
}

// termCacheSize bounds the per-process LRU of parsed terms, avoiding
// re-derivation when a transaction recurs across subtrees within the same
// process lifetime.
const termCacheSize = 4096

// ErrBlockNotIndexed is returned by TransactionProof when blockHash has no
// leaf record, either because the block was never connected through this
// service or because it has since been disconnected.
var ErrBlockNotIndexed = errors.New("addressindex: block not indexed")

// ErrTransactionNotInBlock is returned by TransactionProof when txid isn't
// one of the transactions the block's leaf record names.
var ErrTransactionNotInBlock = errors.New("addressindex: transaction not in block")

// Service builds a content-addressed index tree over each block's
// transactions, keyed by output-value bucket, and stores one root entry
// and one leaf record per block under its own assigned prefix.
type Service struct {
	store     kvstore.KVStore
	allocator *schema.Allocator
	terms     cache.IndexTermCache
	prefix    []byte
}

// New creates a Service. Start must run before HandleBlockConcurrent, so
// the service has its assigned prefix.
func New(store kvstore.KVStore, allocator *schema.Allocator) (*Service, error) {
	terms, err := cachememory.New(termCacheSize)
	if err != nil {
		return nil, fmt.Errorf("addressindex: create term cache: %w", err)
	}
	return &Service{store: store, allocator: allocator, terms: terms}, nil
}

func (s *Service) Name() string           { return Name }
func (s *Service) Dependencies() []string { return nil }

func (s *Service) Start(ctx context.Context) error {
	prefix, err := s.allocator.AssignPrefix(ctx, Name)
	if err != nil {
		return fmt.Errorf("addressindex: assign prefix: %w", err)
	}
	s.prefix = prefix[:]
	return nil
}

// Stop releases the term cache's entries. Not strictly required for
// correctness — classify() is idempotent and cheap — but bounds how long a
// stopped service's cache outlives the service itself.
func (s *Service) Stop(ctx context.Context) error {
	return s.terms.Clear()
}

// HandleBlockConcurrent builds (on connect) or retracts (on disconnect)
// this block's index tree, independent of every other registered handler.
//
// On disconnect, only the per-block root entry and leaf record are
// removed: the merkle and index-tree nodes underneath them are
// content-addressed and immutable, so an orphaned one is simply
// unreachable, not incorrect.
func (s *Service) HandleBlockConcurrent(ctx context.Context, block *models.Block, connect bool) ([]kvstore.Op, error) {
	rootKey := s.blockRootKey(block.Hash)
	if !connect {
		for _, tx := range block.Transactions {
			_ = s.terms.Delete(tx.ID)
		}
		return []kvstore.Op{kvstore.Del(rootKey), kvstore.Del(s.blockLeafKey(block.Hash))}, nil
	}
	if len(block.Transactions) == 0 {
		return nil, nil
	}

	txs, err := s.termsFor(block.Transactions)
	if err != nil {
		return nil, fmt.Errorf("addressindex: derive terms: %w", err)
	}

	merkleScratch := memory.New()
	txids := make([][32]byte, len(block.Transactions))
	for i, tx := range block.Transactions {
		txids[i] = tx.ID
	}
	subtreeRoot, err := merkle.NewBuilder(merkleScratch).BuildSubtreeMerkleTree(ctx, txids)
	if err != nil {
		return nil, fmt.Errorf("addressindex: build subtree merkle tree: %w", err)
	}
	subtreeRootRaw, err := subtreeRoot.Raw()
	if err != nil {
		return nil, fmt.Errorf("addressindex: unwrap subtree merkle root: %w", err)
	}

	treeScratch := memory.New()
	indexRoot, err := treebuilder.NewBuilder(treeScratch).BuildSubtreeIndex(ctx, subtreeRootRaw, txs)
	if err != nil {
		return nil, fmt.Errorf("addressindex: build subtree index: %w", err)
	}

	blockIndexBytes, err := treebuilder.NewBuilder(treeScratch).BuildBlockSubtreeIndex(ctx, []treebuilder.SubtreeInfo{{
		MerkleRoot:    subtreeRootRaw,
		TxCount:       uint32(len(txids)),
		IndexRootHash: indexRoot,
	}})
	if err != nil {
		return nil, fmt.Errorf("addressindex: build block subtree index: %w", err)
	}

	ops := make([]kvstore.Op, 0, 3)
	ops = append(ops, s.harvest(ctx, merkleScratch, 'm')...)
	ops = append(ops, s.harvest(ctx, treeScratch, 't')...)
	ops = append(ops, kvstore.Put(rootKey, blockIndexBytes))
	ops = append(ops, kvstore.Put(s.blockLeafKey(block.Hash), encodeLeafRecord(subtreeRootRaw, txids)))
	return ops, nil
}

// TransactionProof rebuilds a merkle inclusion proof for txid within the
// subtree block committed, reading back the merkle nodes HandleBlockConcurrent
// harvested into this service's own 'm'-namespaced keys. Callers verify the
// result with merkle.VerifyProof against the subtree root the leaf record
// names.
func (s *Service) TransactionProof(ctx context.Context, blockHash, txid kvstore.Hash) (*merkle.MerkleProof, error) {
	raw, err := s.store.Get(ctx, s.blockLeafKey(blockHash))
	if err != nil {
		return nil, fmt.Errorf("addressindex: read leaf record: %w", err)
	}
	if raw == nil {
		return nil, ErrBlockNotIndexed
	}

	subtreeRoot, txids, err := decodeLeafRecord(raw)
	if err != nil {
		return nil, err
	}

	position := -1
	for i, id := range txids {
		if id == txid {
			position = i
			break
		}
	}
	if position < 0 {
		return nil, ErrTransactionNotInBlock
	}

	rootHash, err := multihash.WrapMerkleHash(subtreeRoot)
	if err != nil {
		return nil, fmt.Errorf("addressindex: wrap subtree root: %w", err)
	}

	view := &prefixedView{store: s.store, prefix: append(append([]byte{}, s.prefix...), 'm')}
	proof, err := merkle.NewBuilder(view).BuildMerkleProof(ctx, rootHash, uint32(position), uint32(len(txids)))
	if err != nil {
		return nil, fmt.Errorf("addressindex: build merkle proof: %w", err)
	}
	return proof, nil
}

// termsFor derives each transaction's index terms, consulting and
// populating the term cache so a transaction reappearing across subtrees
// within this process's lifetime is only classified once.
func (s *Service) termsFor(txs []*models.Transaction) ([]treebuilder.TransactionWithTerms, error) {
	out := make([]treebuilder.TransactionWithTerms, len(txs))
	for i, tx := range txs {
		terms, ok := s.terms.Get(tx.ID)
		if !ok {
			terms = classify(tx)
			if err := s.terms.Put(tx.ID, terms); err != nil {
				return nil, err
			}
		}
		out[i] = treebuilder.TransactionWithTerms{TxID: tx.ID, Terms: terms}
	}
	return out, nil
}

// classify derives this transaction's index terms from its output values.
// A real leaf indexer would derive terms from decoded scripts; this is the
// coarsest term the core Transaction model can support without one.
func classify(tx *models.Transaction) []cache.IndexTerm {
	var total int64
	for _, out := range tx.Outputs {
		total += out.Value
	}

	label := bucketBounds[len(bucketBounds)-1].label
	for _, b := range bucketBounds {
		if total <= b.maxSats {
			label = b.label
			break
		}
	}

	return []cache.IndexTerm{{Key: []byte(termKeyValueBucket), Value: []byte(label)}}
}

// harvest re-keys every entry a scratch store's direct writes produced
// under this service's own assigned prefix, tagged by namespace so the
// merkle builder's nodes and the tree builder's nodes never collide.
func (s *Service) harvest(ctx context.Context, scratch *memory.Store, namespace byte) []kvstore.Op {
	var ops []kvstore.Op
	_ = scratch.Iterate(ctx, nil, func(key, value []byte) (bool, error) {
		rekeyed := make([]byte, 0, len(s.prefix)+1+len(key))
		rekeyed = append(rekeyed, s.prefix...)
		rekeyed = append(rekeyed, namespace)
		rekeyed = append(rekeyed, key...)
		ops = append(ops, kvstore.Put(rekeyed, value))
		return true, nil
	})
	return ops
}

func (s *Service) blockRootKey(blockHash kvstore.Hash) []byte {
	key := make([]byte, 0, len(s.prefix)+1+32)
	key = append(key, s.prefix...)
	key = append(key, 'b')
	key = append(key, blockHash[:]...)
	return key
}

// blockLeafKey names the leaf record TransactionProof reads: the ordered
// txid list and subtree root a block's merkle tree was built over, needed
// to turn a txid back into a tree position.
func (s *Service) blockLeafKey(blockHash kvstore.Hash) []byte {
	key := make([]byte, 0, len(s.prefix)+1+32)
	key = append(key, s.prefix...)
	key = append(key, 'l')
	key = append(key, blockHash[:]...)
	return key
}

// encodeLeafRecord packs a subtree root and its ordered txid list as
// root(32) || count(4, big-endian) || txids(32 each).
func encodeLeafRecord(subtreeRoot [32]byte, txids [][32]byte) []byte {
	buf := make([]byte, 0, 32+4+32*len(txids))
	buf = append(buf, subtreeRoot[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(txids)))
	for _, id := range txids {
		buf = append(buf, id[:]...)
	}
	return buf
}

// decodeLeafRecord is the inverse of encodeLeafRecord.
func decodeLeafRecord(raw []byte) ([32]byte, []kvstore.Hash, error) {
	var root [32]byte
	if len(raw) < 36 {
		return root, nil, fmt.Errorf("addressindex: leaf record too short: got %d bytes", len(raw))
	}
	copy(root[:], raw[0:32])
	count := binary.BigEndian.Uint32(raw[32:36])

	want := 36 + int(count)*32
	if len(raw) != want {
		return root, nil, fmt.Errorf("addressindex: leaf record length mismatch: got %d bytes, want %d", len(raw), want)
	}

	txids := make([]kvstore.Hash, count)
	for i := range txids {
		copy(txids[i][:], raw[36+i*32:36+(i+1)*32])
	}
	return root, txids, nil
}

// prefixedView exposes a narrow, read-mostly KVStore view rooted at prefix,
// letting merkle.Builder address a leaf indexer's harvested nodes by their
// own key instead of the rekeyed form harvest() wrote them under. Only Get
// is exercised by proof construction; the remaining KVStore methods are
// implemented to satisfy the interface but are not meaningful on a view
// that shares its backing store with live, already-committed data.
type prefixedView struct {
	store  kvstore.KVStore
	prefix []byte
}

func (v *prefixedView) rekey(key []byte) []byte {
	out := make([]byte, 0, len(v.prefix)+len(key))
	out = append(out, v.prefix...)
	out = append(out, key...)
	return out
}

func (v *prefixedView) Get(ctx context.Context, key []byte) ([]byte, error) {
	return v.store.Get(ctx, v.rekey(key))
}

func (v *prefixedView) Put(ctx context.Context, key, value []byte) error {
	return v.store.Put(ctx, v.rekey(key), value)
}

func (v *prefixedView) Delete(ctx context.Context, key []byte) error {
	return v.store.Delete(ctx, v.rekey(key))
}

func (v *prefixedView) Batch(ctx context.Context, ops []kvstore.Op) error {
	rekeyed := make([]kvstore.Op, len(ops))
	for i, op := range ops {
		rekeyed[i] = kvstore.Op{Type: op.Type, Key: v.rekey(op.Key), Value: op.Value}
	}
	return v.store.Batch(ctx, rekeyed)
}

func (v *prefixedView) Iterate(ctx context.Context, prefix []byte, fn kvstore.VisitFunc) error {
	return v.store.Iterate(ctx, v.rekey(prefix), fn)
}

func (v *prefixedView) Close() error { return nil }
