// Package reorg implements the Reorg Handler: it finds the greatest
// common ancestor between the local tip and the upstream tip, disconnects
// the local suffix, and returns control to the Sync Driver to replay the
// new suffix.
package reorg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shruggr/chainindex/applier"
	"github.com/shruggr/chainindex/chainstate"
	"github.com/shruggr/chainindex/metadata"
	"github.com/shruggr/chainindex/models"
	"github.com/shruggr/chainindex/upstream"
)

// ErrReorgFailed wraps any failure to disconnect the local suffix. It is
// fatal: the Sync Driver stops the node rather than continue with an
// ambiguous chain state.
var ErrReorgFailed = errors.New("reorg: failed")

// orphanCleanupDepth bounds how long orphaned block metadata is retained
// once a reorg has buried it this many blocks deep.
const orphanCleanupDepth = 100

// Handler walks back from the local tip to the chain the upstream node now
// serves, disconnecting the orphaned suffix one block at a time.
type Handler struct {
	upstream upstream.Client
	applier  *applier.Applier
	tips     *chainstate.Tips
	meta     metadata.Store // optional; nil disables orphan bookkeeping
	logger   *slog.Logger
}

// New creates a Handler. meta may be nil to skip metadata bookkeeping.
func New(upstreamClient upstream.Client, blockApplier *applier.Applier, tips *chainstate.Tips, meta metadata.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{upstream: upstreamClient, applier: blockApplier, tips: tips, meta: meta, logger: logger}
}

// HandleReorg disconnects the local suffix rooted just above the common
// ancestor with the upstream chain, then returns so the Sync Driver can
// resume forward sync on the new branch.
//
// divergingBlock is the block the Sync Driver fetched whose parent did not
// match the local tip — the first evidence of divergence. HandleReorg
// ignores its contents beyond using it to kick off the ancestor walk from
// the current local tip.
func (h *Handler) HandleReorg(ctx context.Context, divergingBlock *models.Block) error {
	localTip, err := h.tips.SerialTip(ctx)
	if err != nil {
		return fmt.Errorf("reorg: read local tip: %w", err)
	}
	if localTip == nil {
		return fmt.Errorf("%w: no local tip to reorg from", ErrReorgFailed)
	}

	suffix, err := h.collectSuffix(ctx, *localTip)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReorgFailed, err)
	}

	h.logger.Info("reorg: disconnecting suffix", "length", len(suffix), "from_height", localTip.Height)

	for _, block := range suffix {
		if err := h.applier.Apply(ctx, block, false); err != nil {
			return fmt.Errorf("%w: disconnect height %d: %v", ErrReorgFailed, block.Height, err)
		}
		if h.meta != nil {
			if err := h.meta.MarkOrphan(ctx, uint64(block.Height)); err != nil {
				h.logger.Warn("reorg: mark orphan failed", "height", block.Height, "error", err)
			}
		}
	}

	if h.meta != nil && localTip.Height > orphanCleanupDepth {
		if err := h.meta.CleanupOrphans(ctx, uint64(localTip.Height), orphanCleanupDepth); err != nil {
			h.logger.Warn("reorg: cleanup orphans failed", "error", err)
		}
	}

	return nil
}

// collectSuffix walks backward from localTip, fetching ancestry from the
// upstream node's block index, until it reaches a block the upstream node
// itself names as part of its current chain. It returns the local-only
// suffix, most-recent block first — exactly the order disconnects must
// proceed in, strictly from the tip toward the ancestor.
func (h *Handler) collectSuffix(ctx context.Context, localTip models.TipRecord) ([]*models.Block, error) {
	var suffix []*models.Block

	cursor := localTip.Hash
	for {
		block, err := h.upstream.GetBlock(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch local block %v: %w", cursor, err)
		}

		onUpstreamChain, err := h.isOnUpstreamChain(ctx, block)
		if err != nil {
			return nil, err
		}
		if onUpstreamChain {
			return suffix, nil
		}

		suffix = append(suffix, block)

		if block.Height == 0 {
			// Disconnected all the way to genesis; nothing further to walk.
			return suffix, nil
		}
		cursor = block.ParentHash
	}
}

// isOnUpstreamChain reports whether block's hash is still part of the
// upstream node's current best chain — i.e. whether the local and upstream
// chains have re-intersected. Uses GetBlockIndex rather than GetBlock so
// the check costs an ancestry lookup instead of a full block fetch.
func (h *Handler) isOnUpstreamChain(ctx context.Context, block *models.Block) (bool, error) {
	entry, err := h.upstream.GetBlockIndex(ctx, block.Hash)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetch upstream block index for %v: %w", block.Hash, err)
	}
	return entry.Height == block.Height, nil
}
