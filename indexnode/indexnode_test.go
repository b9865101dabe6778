package indexnode

import (
	"bytes"
	"testing"
)

func TestIndexNodeMarshalUnmarshal(t *testing.T) {
	node := NewIndexNode(8, 32, false, false, false)

	keys := []string{"address1", "address2", "op_retur", "bsv20___"}
	for i, key := range keys {
		value := make([]byte, 32)
		value[0] = byte(i)
		if err := node.AddEntry([]byte(key), value, 0); err != nil {
			t.Fatalf("AddEntry failed: %v", err)
		}
	}

	if err := node.Sort(); err != nil {
		t.Fatalf("Sort failed: %v", err)
	}

	data, err := node.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	node2, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(node2.Entries) != len(node.Entries) {
		t.Fatalf("entry count mismatch: got %d, want %d", len(node2.Entries), len(node.Entries))
	}
	for i := range node.Entries {
		if !bytes.Equal(node2.Entries[i].Key, node.Entries[i].Key) {
			t.Errorf("entry %d key mismatch: got %q, want %q", i, node2.Entries[i].Key, node.Entries[i].Key)
		}
		if !bytes.Equal(node2.Entries[i].Value, node.Entries[i].Value) {
			t.Errorf("entry %d value mismatch", i)
		}
	}
}

func TestIndexNodeFind(t *testing.T) {
	node := NewIndexNode(6, 32, false, false, false)

	testData := map[string][]byte{
		"apple_": bytes.Repeat([]byte{1}, 32),
		"banana": bytes.Repeat([]byte{2}, 32),
		"cherry": bytes.Repeat([]byte{3}, 32),
	}
	for key, value := range testData {
		if err := node.AddEntry([]byte(key), value, 0); err != nil {
			t.Fatalf("AddEntry failed: %v", err)
		}
	}

	if err := node.Sort(); err != nil {
		t.Fatalf("Sort failed: %v", err)
	}

	for key, expected := range testData {
		value, found := node.Find([]byte(key))
		if !found {
			t.Errorf("key %q not found", key)
			continue
		}
		if !bytes.Equal(value, expected) {
			t.Errorf("value mismatch for key %q", key)
		}
	}

	if _, found := node.Find([]byte("orange")); found {
		t.Error("found non-existent key \"orange\"")
	}
}

func TestIndexNodeHash(t *testing.T) {
	node := NewIndexNode(8, 32, false, false, false)

	value := make([]byte, 32)
	for i := range value {
		value[i] = byte(i)
	}
	if err := node.AddEntry([]byte("test_key"), value, 0); err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	hash1, err := node.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if err := hash1.Verify(mustMarshal(t, node)); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	hash2, err := node.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !bytes.Equal(hash1, hash2) {
		t.Error("hash not deterministic")
	}
}

func TestIndexNodeSorting(t *testing.T) {
	node := NewIndexNode(6, 32, false, false, false)

	keys := []string{"zebra1", "apple1", "mango1", "banana"}
	value := make([]byte, 32)
	for _, key := range keys {
		if err := node.AddEntry([]byte(key), value, 0); err != nil {
			t.Fatalf("AddEntry failed: %v", err)
		}
	}

	if err := node.Sort(); err != nil {
		t.Fatalf("Sort failed: %v", err)
	}

	expected := []string{"apple1", "banana", "mango1", "zebra1"}
	for i, want := range expected {
		if string(node.Entries[i].Key) != want {
			t.Errorf("entry %d: got %q, want %q", i, node.Entries[i].Key, want)
		}
	}
}

func mustMarshal(t *testing.T, node *IndexNode) []byte {
	t.Helper()
	data, err := node.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return data
}
