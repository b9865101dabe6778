package reorg

import (
	"context"
	"testing"

	"github.com/shruggr/chainindex/applier"
	"github.com/shruggr/chainindex/chainstate"
	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/kvstore/memory"
	"github.com/shruggr/chainindex/models"
	"github.com/shruggr/chainindex/registry"
	"github.com/shruggr/chainindex/upstream"
)

func hash(b byte) kvstore.Hash {
	var h kvstore.Hash
	h[0] = b
	return h
}

func block(height uint32, self, parent kvstore.Hash) *models.Block {
	return &models.Block{Height: height, Hash: self, ParentHash: parent}
}

// TestOneBlockReorg covers a local tip A at height 200 with parent P;
// upstream now serves B at height 200 on the same parent. One disconnect,
// then the Sync Driver (not exercised here) would apply B.
func TestOneBlockReorg(t *testing.T) {
	p := hash(0xAA)
	a := block(200, hash(0xA1), p)
	b := block(200, hash(0xB1), p)

	fake := upstream.NewFake(nil)
	fake.AddBlock(p2(199, p))
	fake.AddBlock(a)
	fake.AddBlock(b)
	fake.SetTip(b.Hash) // upstream now serves branch B at height 200

	store := memory.New()
	tips := chainstate.New(store)
	reg, _ := registry.New(nil)
	app := applier.New(store, reg, tips, nil, 0, nil, nil)

	ctx := context.Background()
	if err := app.Apply(ctx, a, true); err != nil {
		t.Fatalf("seed local tip: %v", err)
	}

	h := New(fake, app, tips, nil, nil)
	if err := h.HandleReorg(ctx, b); err != nil {
		t.Fatalf("HandleReorg() error = %v", err)
	}

	tip, err := tips.SerialTip(ctx)
	if err != nil || tip == nil {
		t.Fatalf("SerialTip() = %v, %v", tip, err)
	}
	if tip.Height != 199 || tip.Hash != p {
		t.Fatalf("after disconnect, tip = %+v, want height 199 hash %v", tip, p)
	}
}

// p2 is a small helper naming a block purely by its position in the
// genuinely-shared ancestry, distinct from the `block` helper above to
// keep call sites in TestOneBlockReorg readable.
func p2(height uint32, self kvstore.Hash) *models.Block {
	return &models.Block{Height: height, Hash: self}
}

// TestDeepReorg covers three local-only blocks disconnecting in
// tip-to-ancestor order before the walk reaches the shared ancestor.
func TestDeepReorg(t *testing.T) {
	ancestor := hash(0x99)
	a1 := block(500, hash(0xA1), ancestor)
	a2 := block(501, hash(0xA2), a1.Hash)
	a3 := block(502, hash(0xA3), a2.Hash)

	b1 := block(500, hash(0xB1), ancestor)

	fake := upstream.NewFake(nil)
	fake.AddBlock(p2(499, ancestor))
	fake.AddBlock(a1)
	fake.AddBlock(a2)
	fake.AddBlock(a3)
	fake.AddBlock(b1)
	fake.SetTip(b1.Hash)

	store := memory.New()
	tips := chainstate.New(store)
	reg, _ := registry.New(nil)
	app := applier.New(store, reg, tips, nil, 0, nil, nil)

	ctx := context.Background()
	for _, blk := range []*models.Block{a1, a2, a3} {
		if err := app.Apply(ctx, blk, true); err != nil {
			t.Fatalf("seed local chain: %v", err)
		}
	}

	h := New(fake, app, tips, nil, nil)
	if err := h.HandleReorg(ctx, b1); err != nil {
		t.Fatalf("HandleReorg() error = %v", err)
	}

	tip, err := tips.SerialTip(ctx)
	if err != nil || tip == nil {
		t.Fatalf("SerialTip() = %v, %v", tip, err)
	}
	if tip.Height != 499 || tip.Hash != ancestor {
		t.Fatalf("after deep disconnect, tip = %+v, want height 499 hash %v", tip, ancestor)
	}
}
