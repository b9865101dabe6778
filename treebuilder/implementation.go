package treebuilder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/shruggr/chainindex/indexnode"
	"github.com/shruggr/chainindex/kvstore"
	"lukechampine.com/blake3"
)

// implementation is the concrete implementation of Builder
type implementation struct {
	store kvstore.KVStore
}

// NewBuilder creates a new tree builder
func NewBuilder(store kvstore.KVStore) Builder {
	return &implementation{
		store: store,
	}
}

// BuildSubtreeIndex builds an index tree for a single subtree: a root
// IndexNode mapping each distinct term key to a leaf IndexNode, and each
// leaf mapping that key's distinct values to the hash of the sorted txid
// list carrying that value. Term keys and values are both variable-length,
// so entries are addressed through IndexNode's data-section lookup mode
// (KeySize=0, HasData, SortByData) rather than its fixed-width key mode.
func (b *implementation) BuildSubtreeIndex(
	ctx context.Context,
	subtreeMerkleRoot kvstore.Hash,
	txs []TransactionWithTerms,
) (kvstore.Hash, error) {
	if len(txs) == 0 {
		return kvstore.Hash{}, fmt.Errorf("no transactions to index")
	}

	// Step 1: Group transactions by indexed_key → indexed_value → []txid
	indexMap := make(map[string]map[string][]kvstore.Hash)
	for _, tx := range txs {
		for _, term := range tx.Terms {
			keyStr := string(term.Key)
			valueStr := string(term.Value)

			if indexMap[keyStr] == nil {
				indexMap[keyStr] = make(map[string][]kvstore.Hash)
			}
			indexMap[keyStr][valueStr] = append(indexMap[keyStr][valueStr], tx.TxID)
		}
	}

	// Step 2: Build leaf nodes for each indexed_key
	leafNodes := make(map[string]kvstore.Hash) // key → leaf node hash

	for key, valueMap := range indexMap {
		values := make([]string, 0, len(valueMap))
		for value := range valueMap {
			values = append(values, value)
		}
		sort.Strings(values)

		leafNode := indexnode.NewIndexNode(0, 32, true, true, false)
		data := newDataSectionBuilder()

		for _, value := range values {
			txidList := valueMap[value]

			txidListHash, err := b.storeTxIDList(ctx, txidList)
			if err != nil {
				return kvstore.Hash{}, fmt.Errorf("failed to store txid list: %w", err)
			}

			offset := data.append([]byte(value))
			if err := leafNode.AddEntry(nil, txidListHash[:], offset); err != nil {
				return kvstore.Hash{}, fmt.Errorf("failed to add entry to leaf node: %w", err)
			}
		}
		leafNode.SetDataSection(data.bytes())

		leafNodeBytes, err := leafNode.Marshal()
		if err != nil {
			return kvstore.Hash{}, fmt.Errorf("failed to marshal leaf node: %w", err)
		}

		leafNodeHash := hashNode(leafNodeBytes)
		if err := b.store.Put(ctx, leafNodeHash[:], leafNodeBytes); err != nil {
			return kvstore.Hash{}, fmt.Errorf("failed to store leaf node: %w", err)
		}

		leafNodes[key] = leafNodeHash
	}

	// Step 3: Build root node containing: indexed_key → leaf_node_hash
	keys := make([]string, 0, len(leafNodes))
	for key := range leafNodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rootNode := indexnode.NewIndexNode(0, 32, true, true, false)
	data := newDataSectionBuilder()
	for _, key := range keys {
		offset := data.append([]byte(key))
		leafHash := leafNodes[key]
		if err := rootNode.AddEntry(nil, leafHash[:], offset); err != nil {
			return kvstore.Hash{}, fmt.Errorf("failed to add entry to root node: %w", err)
		}
	}
	rootNode.SetDataSection(data.bytes())

	rootNodeBytes, err := rootNode.Marshal()
	if err != nil {
		return kvstore.Hash{}, fmt.Errorf("failed to marshal root node: %w", err)
	}

	rootHash := hashNode(rootNodeBytes)
	if err := b.store.Put(ctx, rootHash[:], rootNodeBytes); err != nil {
		return kvstore.Hash{}, fmt.Errorf("failed to store root node: %w", err)
	}

	return rootHash, nil
}

// BuildBlockSubtreeIndex builds the block→subtree mapping: an IndexNode
// whose fixed 32-byte keys are each subtree's merkle root, mapping to its
// index root hash, carrying the subtree's transaction count as side data.
func (b *implementation) BuildBlockSubtreeIndex(
	ctx context.Context,
	subtrees []SubtreeInfo,
) ([]byte, error) {
	if len(subtrees) == 0 {
		return nil, fmt.Errorf("no subtrees to index")
	}

	node := indexnode.NewIndexNode(32, 32, true, false, false)

	// Sort subtrees by merkle root for deterministic ordering
	sortedSubtrees := make([]SubtreeInfo, len(subtrees))
	copy(sortedSubtrees, subtrees)
	sort.Slice(sortedSubtrees, func(i, j int) bool {
		return bytes.Compare(sortedSubtrees[i].MerkleRoot[:], sortedSubtrees[j].MerkleRoot[:]) < 0
	})

	data := newDataSectionBuilder()
	for _, subtree := range sortedSubtrees {
		txCountBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(txCountBytes, subtree.TxCount)
		offset := data.append(txCountBytes)

		if err := node.AddEntry(subtree.MerkleRoot[:], subtree.IndexRootHash[:], offset); err != nil {
			return nil, fmt.Errorf("failed to add subtree entry: %w", err)
		}
	}
	node.SetDataSection(data.bytes())

	nodeBytes, err := node.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal block subtree index: %w", err)
	}

	return nodeBytes, nil
}

// storeTxIDList stores a list of transaction IDs and returns the BLAKE3 hash
func (b *implementation) storeTxIDList(ctx context.Context, txids []kvstore.Hash) (kvstore.Hash, error) {
	sortedTxids := make([]kvstore.Hash, len(txids))
	copy(sortedTxids, txids)
	sort.Slice(sortedTxids, func(i, j int) bool {
		return bytes.Compare(sortedTxids[i][:], sortedTxids[j][:]) < 0
	})

	buf := make([]byte, 4+len(sortedTxids)*32)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(sortedTxids)))

	offset := 4
	for _, txid := range sortedTxids {
		copy(buf[offset:offset+32], txid[:])
		offset += 32
	}

	hash := hashNode(buf)
	if err := b.store.Put(ctx, hash[:], buf); err != nil {
		return kvstore.Hash{}, err
	}

	return hash, nil
}

// hashNode computes the BLAKE3 hash of node data
func hashNode(data []byte) kvstore.Hash {
	h := blake3.Sum256(data)
	return h
}

// dataSectionBuilder accumulates length-prefixed entries for an IndexNode's
// DataSection, in the [length:4][data] format getDataAt expects. Offset 0
// is reserved by IndexNode as the "no data" sentinel, so the first 4 bytes
// are a dummy reservation nothing ever points at.
type dataSectionBuilder struct {
	buf []byte
}

func newDataSectionBuilder() *dataSectionBuilder {
	return &dataSectionBuilder{buf: make([]byte, 4)}
}

func (d *dataSectionBuilder) append(value []byte) uint32 {
	offset := uint32(len(d.buf))
	lengthPrefix := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthPrefix, uint32(len(value)))
	d.buf = append(d.buf, lengthPrefix...)
	d.buf = append(d.buf, value...)
	return offset
}

func (d *dataSectionBuilder) bytes() []byte {
	return d.buf
}
