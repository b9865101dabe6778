// Package applier implements the Block Applier: given a block and a
// direction, it gathers every service's mutations and commits them as one
// atomic batch along with the corresponding tip update.
package applier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shruggr/chainindex/chainstate"
	"github.com/shruggr/chainindex/eventbus"
	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/metadata"
	"github.com/shruggr/chainindex/models"
	"github.com/shruggr/chainindex/registry"
)

// ErrHandlerFailure wraps any error returned by a service's BlockHandler
// or ConcurrentBlockHandler. It aborts the current apply before any
// mutation is committed.
var ErrHandlerFailure = errors.New("applier: handler failure")

// Applier commits one block's worth of index mutations per call.
type Applier struct {
	store           kvstore.KVStore
	registry        *registry.Registry
	tips            *chainstate.Tips
	meta            metadata.Store // optional; nil disables block bookkeeping
	maxInputLookups int
	bus             *eventbus.Bus
	logger          *slog.Logger
}

// New creates an Applier. bus may be nil to disable event publication, and
// meta may be nil to disable the best-effort block bookkeeping PutBlock
// writes; the Reorg Handler tolerates this metadata being empty.
// maxInputLookups bounds how many
// in-block prior-output lookups decorateTransactions performs per transaction
// (config.Config.ResolvedMaxTransactionLimit).
func New(store kvstore.KVStore, reg *registry.Registry, tips *chainstate.Tips, meta metadata.Store, maxInputLookups int, bus *eventbus.Bus, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		store:           store,
		registry:        reg,
		tips:            tips,
		meta:            meta,
		maxInputLookups: maxInputLookups,
		bus:             bus,
		logger:          logger,
	}
}

// Apply runs every registered handler over block and commits the union of
// their ops, plus the tip update, in one atomic batch.
//
// Step order:
//  1. Every ConcurrentBlockHandler runs in parallel; handlers must be
//     independent of one another.
//  2. Every BlockHandler runs sequentially in registry order, so a later
//     serial handler may rely on an earlier one's side effects within this
//     same apply.
//  3. Two tip-update ops (serial, concurrent) are appended reflecting
//     block.Hash/Height on connect, or block.ParentHash/Height-1 on
//     disconnect.
//  4. The whole set commits as a single Store.Batch call.
//
// Any handler error aborts before step 4 runs, so no partial mutation is
// ever committed.
func (a *Applier) Apply(ctx context.Context, block *models.Block, connect bool) error {
	if connect && len(block.Transactions) > 0 {
		if err := a.decorateTransactions(block); err != nil {
			return fmt.Errorf("applier: decorate transactions at height %d: %w", block.Height, err)
		}
	}

	concurrentOps, err := a.runConcurrentHandlers(ctx, block, connect)
	if err != nil {
		return err
	}

	serialOps, err := a.runSerialHandlers(ctx, block, connect)
	if err != nil {
		return err
	}

	var tipRecord models.TipRecord
	if connect {
		tipRecord = chainstate.RecordForConnect(block)
	} else {
		tipRecord = chainstate.RecordForDisconnect(block)
	}

	ops := make([]kvstore.Op, 0, len(concurrentOps)+len(serialOps)+2)
	ops = append(ops, concurrentOps...)
	ops = append(ops, serialOps...)
	ops = append(ops, a.tips.Op(chainstate.Serial, tipRecord))
	ops = append(ops, a.tips.Op(chainstate.Concurrent, tipRecord))

	if err := a.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("applier: commit batch at height %d: %w", block.Height, err)
	}

	if connect {
		a.recordBlockMeta(ctx, block)
	}

	a.publish(block, connect)

	a.logger.Info("applied block", "height", block.Height, "hash", block.Hash, "connect", connect, "ops", len(ops))
	return nil
}

// decorateTransactions sets Height/Timestamp on every transaction in block
// and resolves InputValues for inputs whose prior output was produced
// earlier in the same block, via a side-channel map rather than ad-hoc
// properties attached to each transaction. Prior outputs from earlier
// blocks aren't resolved: nothing in this engine
// parses raw transaction bytes back into structured outputs, so there is no
// way to look up a historical output's value without one.
func (a *Applier) decorateTransactions(block *models.Block) error {
	header, err := models.ParseBlockHeader(block.Header)
	if err != nil {
		return err
	}

	height := block.Height
	timestamp := header.Timestamp

	byTxID := make(map[kvstore.Hash]*models.Transaction, len(block.Transactions))
	for _, tx := range block.Transactions {
		tx.Height = &height
		tx.Timestamp = &timestamp
		byTxID[tx.ID] = tx
	}

	for _, tx := range block.Transactions {
		if len(tx.Inputs) == 0 {
			continue
		}
		values := make([]int64, len(tx.Inputs))
		lookups := 0
		for i, in := range tx.Inputs {
			if lookups >= a.maxInputLookups {
				break
			}
			prior, ok := byTxID[in.PrevTxID]
			if !ok || int(in.PrevVout) >= len(prior.Outputs) {
				continue
			}
			values[i] = prior.Outputs[in.PrevVout].Value
			lookups++
		}
		tx.InputValues = values
	}
	return nil
}

// recordBlockMeta writes best-effort bookkeeping metadata for a newly
// connected block. Failures are logged, not returned: per metadata.Store's
// contract this is housekeeping for the Reorg Handler, not a consistency
// boundary the commit depends on.
func (a *Applier) recordBlockMeta(ctx context.Context, block *models.Block) {
	if a.meta == nil {
		return
	}

	header, err := models.ParseBlockHeader(block.Header)
	if err != nil {
		a.logger.Warn("applier: skip block metadata, invalid header", "height", block.Height, "error", err)
		return
	}

	meta := &metadata.BlockMeta{
		Height:     uint64(block.Height),
		BlockHash:  block.Hash,
		MerkleRoot: header.MerkleRoot,
		TxCount:    uint64(len(block.Transactions)),
		Status:     metadata.StatusMain,
		Timestamp:  int64(header.Timestamp),
	}
	if err := a.meta.PutBlock(ctx, meta, nil); err != nil {
		a.logger.Warn("applier: record block metadata failed", "height", block.Height, "error", err)
	}
}

func (a *Applier) runConcurrentHandlers(ctx context.Context, block *models.Block, connect bool) ([]kvstore.Op, error) {
	handlers := a.registry.ConcurrentBlockHandlers()
	if len(handlers) == 0 {
		return nil, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		allOps   []kvstore.Op
		firstErr error
	)

	wg.Add(len(handlers))
	for _, h := range handlers {
		h := h
		go func() {
			defer wg.Done()

			ops, err := h.HandleBlockConcurrent(ctx, block, connect)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("%w: %v", ErrHandlerFailure, err)
				}
				return
			}
			allOps = append(allOps, ops...)
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return allOps, nil
}

func (a *Applier) runSerialHandlers(ctx context.Context, block *models.Block, connect bool) ([]kvstore.Op, error) {
	var ops []kvstore.Op
	for _, h := range a.registry.BlockHandlers() {
		hOps, err := h.HandleBlock(ctx, block, connect)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandlerFailure, err)
		}
		ops = append(ops, hOps...)
	}
	return ops, nil
}

func (a *Applier) publish(block *models.Block, connect bool) {
	if a.bus == nil {
		return
	}

	a.bus.Publish(eventbus.TopicBlock, eventbus.BlockEvent{Block: block, Connect: connect})
	for _, tx := range block.Transactions {
		a.bus.Publish(eventbus.TopicTransaction, eventbus.TransactionEvent{Tx: tx, Block: block})
	}
}
