// Package chainstate owns the two persisted tip cursors: the serial tip,
// which advances only after serial handlers commit, and the concurrent
// tip, which advances after parallel handlers commit.
package chainstate

import (
	"context"
	"fmt"

	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/models"
	"github.com/shruggr/chainindex/schema"
)

// Cursor names one of the two tip records a block commit updates.
type Cursor int

const (
	Serial Cursor = iota
	Concurrent
)

func (c Cursor) key() []byte {
	if c == Concurrent {
		return schema.ConcurrentTipKey()
	}
	return schema.TipKey()
}

// Tips reads and writes the serial/concurrent tip records.
type Tips struct {
	store kvstore.KVStore
}

// New creates a Tips bookkeeper backed by store.
func New(store kvstore.KVStore) *Tips {
	return &Tips{store: store}
}

// Get returns the tip record for cursor, or (nil, nil) if none has been
// written yet (a fresh database before genesis is applied).
func (t *Tips) Get(ctx context.Context, cursor Cursor) (*models.TipRecord, error) {
	raw, err := t.store.Get(ctx, cursor.key())
	if err != nil {
		return nil, fmt.Errorf("chainstate: read tip: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	rec, err := models.DecodeTipRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("chainstate: decode tip: %w", err)
	}
	return &rec, nil
}

// SerialTip returns the serial tip record, or nil if unset.
func (t *Tips) SerialTip(ctx context.Context) (*models.TipRecord, error) {
	return t.Get(ctx, Serial)
}

// ConcurrentTip returns the concurrent tip record, or nil if unset.
func (t *Tips) ConcurrentTip(ctx context.Context) (*models.TipRecord, error) {
	return t.Get(ctx, Concurrent)
}

// Op builds the Put op that advances cursor to rec. Block Applier appends
// one of these per cursor to every commit batch, so the tip update lands
// atomically with the handler ops it describes.
func (t *Tips) Op(cursor Cursor, rec models.TipRecord) kvstore.Op {
	return kvstore.Put(cursor.key(), rec.Encode())
}

// RecordForConnect computes the tip record a connect-apply of block should
// leave behind: the block's own hash and height.
func RecordForConnect(block *models.Block) models.TipRecord {
	return models.TipRecord{Hash: block.Hash, Height: block.Height}
}

// RecordForDisconnect computes the tip record a disconnect-apply of block
// should leave behind: the block's parent. Disconnecting the block at
// height H yields tip height H-1 named by that block's parent hash.
func RecordForDisconnect(block *models.Block) models.TipRecord {
	height := uint32(0)
	if block.Height > 0 {
		height = block.Height - 1
	}
	return models.TipRecord{Hash: block.ParentHash, Height: height}
}
