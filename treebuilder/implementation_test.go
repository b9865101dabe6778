package treebuilder

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/shruggr/chainindex/cache"
	"github.com/shruggr/chainindex/indexnode"
	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/kvstore/memory"
)

func TestBuildSubtreeIndex(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	builder := NewBuilder(store)

	txs := []TransactionWithTerms{
		{
			TxID: createTestHash(1),
			Terms: []cache.IndexTerm{
				{Key: []byte("protocol"), Value: []byte("bap")},
				{Key: []byte("type"), Value: []byte("IDENTITY")},
			},
		},
		{
			TxID: createTestHash(2),
			Terms: []cache.IndexTerm{
				{Key: []byte("protocol"), Value: []byte("bap")},
				{Key: []byte("type"), Value: []byte("ATTESTATION")},
			},
		},
		{
			TxID: createTestHash(3),
			Terms: []cache.IndexTerm{
				{Key: []byte("protocol"), Value: []byte("ord")},
				{Key: []byte("type"), Value: []byte("image/png")},
			},
		},
	}

	subtreeMerkleRoot := createTestHash(100)

	rootHash, err := builder.BuildSubtreeIndex(ctx, subtreeMerkleRoot, txs)
	if err != nil {
		t.Fatalf("BuildSubtreeIndex failed: %v", err)
	}

	rootNodeBytes, err := store.Get(ctx, rootHash[:])
	if err != nil {
		t.Fatalf("failed to retrieve root node: %v", err)
	}
	if rootNodeBytes == nil {
		t.Fatal("root node not found in store")
	}

	rootNode, err := indexnode.Unmarshal(rootNodeBytes)
	if err != nil {
		t.Fatalf("failed to unmarshal root node: %v", err)
	}

	// Should have 2 distinct term keys: "protocol" and "type", addressed
	// through the node's data section since KeySize is 0.
	if len(rootNode.Entries) != 2 {
		t.Fatalf("expected 2 entries in root node, got %d", len(rootNode.Entries))
	}

	var gotKeys []string
	for _, entry := range rootNode.Entries {
		gotKeys = append(gotKeys, string(rootNode.DataAt(entry.Offset)))
	}
	if gotKeys[0] != "protocol" || gotKeys[1] != "type" {
		t.Errorf("entries not sorted by data as expected: got %v", gotKeys)
	}
}

func TestBuildBlockSubtreeIndex(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	builder := NewBuilder(store)

	subtrees := []SubtreeInfo{
		{MerkleRoot: createTestHash(1), TxCount: 100, IndexRootHash: createTestHash(10)},
		{MerkleRoot: createTestHash(2), TxCount: 200, IndexRootHash: createTestHash(20)},
		{MerkleRoot: createTestHash(3), TxCount: 150, IndexRootHash: createTestHash(30)},
	}

	nodeBytes, err := builder.BuildBlockSubtreeIndex(ctx, subtrees)
	if err != nil {
		t.Fatalf("BuildBlockSubtreeIndex failed: %v", err)
	}

	node, err := indexnode.Unmarshal(nodeBytes)
	if err != nil {
		t.Fatalf("failed to unmarshal block subtree index: %v", err)
	}

	if len(node.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(node.Entries))
	}
	if node.KeySize != 32 || !node.HasData {
		t.Errorf("expected 32-byte keyed node with a data section, got KeySize=%d HasData=%v", node.KeySize, node.HasData)
	}

	foundCounts := make(map[uint32]bool)
	for _, entry := range node.Entries {
		data := node.DataAt(entry.Offset)
		if len(data) != 4 {
			t.Fatalf("expected 4 bytes of data, got %d", len(data))
		}
		foundCounts[binary.BigEndian.Uint32(data)] = true
	}

	for _, expected := range []uint32{100, 200, 150} {
		if !foundCounts[expected] {
			t.Errorf("expected to find tx count %d", expected)
		}
	}
}

func TestBuildSubtreeIndexEmpty(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	builder := NewBuilder(store)

	subtreeMerkleRoot := createTestHash(100)

	_, err := builder.BuildSubtreeIndex(ctx, subtreeMerkleRoot, []TransactionWithTerms{})
	if err == nil {
		t.Fatal("expected error for empty transactions, got nil")
	}
}

func TestBuildBlockSubtreeIndexEmpty(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	builder := NewBuilder(store)

	_, err := builder.BuildBlockSubtreeIndex(ctx, []SubtreeInfo{})
	if err == nil {
		t.Fatal("expected error for empty subtrees, got nil")
	}
}

// createTestHash creates a test hash with a specific byte value
func createTestHash(value byte) kvstore.Hash {
	var hash kvstore.Hash
	hash[0] = value
	return hash
}
