package chainstate

import (
	"context"
	"testing"

	"github.com/shruggr/chainindex/kvstore/memory"
	"github.com/shruggr/chainindex/models"
)

func TestGetAbsent(t *testing.T) {
	store := memory.New()
	tips := New(store)

	rec, err := tips.SerialTip(context.Background())
	if err != nil {
		t.Fatalf("SerialTip() error = %v", err)
	}
	if rec != nil {
		t.Fatalf("SerialTip() = %+v, want nil on empty store", rec)
	}
}

func TestRoundTrip(t *testing.T) {
	store := memory.New()
	tips := New(store)
	ctx := context.Background()

	var want models.TipRecord
	want.Hash[0] = 0xAB
	want.Height = 42

	op := tips.Op(Serial, want)
	if err := store.Put(ctx, op.Key, op.Value); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := tips.SerialTip(ctx)
	if err != nil {
		t.Fatalf("SerialTip() error = %v", err)
	}
	if got == nil || got.Height != want.Height || got.Hash != want.Hash {
		t.Fatalf("SerialTip() = %+v, want %+v", got, want)
	}

	concTip, err := tips.ConcurrentTip(ctx)
	if err != nil {
		t.Fatalf("ConcurrentTip() error = %v", err)
	}
	if concTip != nil {
		t.Fatalf("ConcurrentTip() = %+v, want nil (unset)", concTip)
	}
}

func TestRecordForDisconnectAtGenesis(t *testing.T) {
	block := &models.Block{Height: 0}
	rec := RecordForDisconnect(block)
	if rec.Height != 0 {
		t.Fatalf("RecordForDisconnect at genesis: Height = %d, want 0", rec.Height)
	}
}
