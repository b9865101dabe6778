package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/shruggr/chainindex/kvstore"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Put(ctx, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	val, err := s.Get(ctx, []byte("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(val, []byte("1")) {
		t.Fatalf("Get got %q, want %q", val, "1")
	}

	if err := s.Delete(ctx, []byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	val, err = s.Get(ctx, []byte("a"))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if val != nil {
		t.Fatalf("Get after delete got %q, want nil", val)
	}
}

func TestBatchAtomicity(t *testing.T) {
	ctx := context.Background()
	s := New()

	ops := []kvstore.Op{
		kvstore.Put([]byte("a"), []byte("1")),
		kvstore.Put([]byte("b"), []byte("2")),
		kvstore.Del([]byte("c")),
	}
	if err := s.Batch(ctx, ops); err != nil {
		t.Fatalf("Batch: %v", err)
	}

	a, _ := s.Get(ctx, []byte("a"))
	b, _ := s.Get(ctx, []byte("b"))
	if !bytes.Equal(a, []byte("1")) || !bytes.Equal(b, []byte("2")) {
		t.Fatalf("batch writes not visible: a=%q b=%q", a, b)
	}
}

func TestIterateOrderedPrefixScan(t *testing.T) {
	ctx := context.Background()
	s := New()

	entries := map[string]string{
		"\x01\x01a": "1",
		"\x01\x01c": "3",
		"\x01\x01b": "2",
		"\x02\x00z": "other-prefix",
	}
	for k, v := range entries {
		if err := s.Put(ctx, []byte(k), []byte(v)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	var gotKeys []string
	err := s.Iterate(ctx, []byte("\x01\x01"), func(key, value []byte) (bool, error) {
		gotKeys = append(gotKeys, string(key))
		return true, nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	want := []string{"\x01\x01a", "\x01\x01b", "\x01\x01c"}
	if len(gotKeys) != len(want) {
		t.Fatalf("got %d keys, want %d: %q", len(gotKeys), len(want), gotKeys)
	}
	for i := range want {
		if gotKeys[i] != want[i] {
			t.Errorf("key %d: got %q, want %q", i, gotKeys[i], want[i])
		}
	}
}

func TestIterateEarlyStop(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []string{"p1", "p2", "p3"} {
		_ = s.Put(ctx, []byte(k), []byte("v"))
	}

	var visited int
	err := s.Iterate(ctx, []byte("p"), func(key, value []byte) (bool, error) {
		visited++
		return visited < 2, nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if visited != 2 {
		t.Fatalf("expected iteration to stop after 2 visits, got %d", visited)
	}
}
