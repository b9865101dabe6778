package txindex

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/kvstore/memory"
	"github.com/shruggr/chainindex/models"
	"github.com/shruggr/chainindex/schema"
)

func hash(b byte) kvstore.Hash {
	var h kvstore.Hash
	h[0] = b
	return h
}

func TestHandleBlockConnectAndGet(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, schema.NewAllocator(store))
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tx := &models.Transaction{ID: hash(1), Raw: []byte("raw-tx-bytes")}
	block := &models.Block{Height: 1, Transactions: []*models.Transaction{tx}}

	ops, err := svc.HandleBlock(ctx, block, true)
	if err != nil {
		t.Fatalf("HandleBlock() error = %v", err)
	}
	if err := store.Batch(ctx, ops); err != nil {
		t.Fatalf("Batch() error = %v", err)
	}

	got, err := svc.Get(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, tx.Raw) {
		t.Fatalf("Get() = %q, want %q", got, tx.Raw)
	}
}

func TestHandleBlockDisconnectRemoves(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, schema.NewAllocator(store))
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tx := &models.Transaction{ID: hash(2), Raw: []byte("raw")}
	block := &models.Block{Height: 1, Transactions: []*models.Transaction{tx}}

	connectOps, _ := svc.HandleBlock(ctx, block, true)
	if err := store.Batch(ctx, connectOps); err != nil {
		t.Fatalf("Batch(connect) error = %v", err)
	}

	disconnectOps, err := svc.HandleBlock(ctx, block, false)
	if err != nil {
		t.Fatalf("HandleBlock(disconnect) error = %v", err)
	}
	if err := store.Batch(ctx, disconnectOps); err != nil {
		t.Fatalf("Batch(disconnect) error = %v", err)
	}

	if _, err := svc.Get(ctx, tx.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGetUnknownTxidNotFound(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, schema.NewAllocator(store))
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := svc.Get(ctx, hash(0xFF)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}
