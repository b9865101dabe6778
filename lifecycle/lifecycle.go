// Package lifecycle implements the Lifecycle component: version guard ->
// tip load -> registry start -> sync driver run -> graceful stop ->
// registry stop -> store close, wired up as a reusable Node type rather
// than an inline main function.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shruggr/chainindex/applier"
	"github.com/shruggr/chainindex/chainstate"
	"github.com/shruggr/chainindex/config"
	"github.com/shruggr/chainindex/eventbus"
	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/metadata"
	"github.com/shruggr/chainindex/models"
	"github.com/shruggr/chainindex/registry"
	"github.com/shruggr/chainindex/reorg"
	"github.com/shruggr/chainindex/schema"
	"github.com/shruggr/chainindex/syncer"
	"github.com/shruggr/chainindex/upstream"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// ErrTipUnreachable reports that a persisted tip's block could not be
// re-fetched from the upstream node after the retry budget was exhausted.
// Fatal; the operator must reindex.
var ErrTipUnreachable = errors.New("lifecycle: stored tip unreachable upstream, reindex required")

const (
	defaultRetries    = 3
	defaultRetryDelay = 60 * time.Second
)

// Option configures a Node at construction time.
type Option func(*Node)

// WithRetryPolicy overrides the tip-load retry count and spacing. Defaults
// to 3 retries spaced 60s apart.
func WithRetryPolicy(retries int, delay time.Duration) Option {
	return func(n *Node) {
		n.retries = retries
		n.retryDelay = delay
	}
}

// WithSyncerOptions forwards options to the underlying syncer.Driver.
func WithSyncerOptions(opts ...syncer.Option) Option {
	return func(n *Node) { n.syncerOpts = append(n.syncerOpts, opts...) }
}

// Node orchestrates one engine instance's full life: startup, steady-state
// sync, and graceful or fatal shutdown.
type Node struct {
	cfg      *config.Config
	store    kvstore.KVStore
	upstream upstream.Client
	meta     metadata.Store // optional
	bus      *eventbus.Bus  // optional
	logger   *slog.Logger

	registry *registry.Registry
	tips     *chainstate.Tips
	applier  *applier.Applier
	reorg    *reorg.Handler
	syncer   *syncer.Driver

	retries    int
	retryDelay time.Duration
	syncerOpts []syncer.Option
}

// New assembles a Node from an already-opened Store, a Client for the
// upstream node, and the set of services to register. meta and bus may be
// nil to disable, respectively, orphan-cleanup bookkeeping and event
// publication.
func New(cfg *config.Config, store kvstore.KVStore, upstreamClient upstream.Client, services []registry.Service, meta metadata.Store, bus *eventbus.Bus, logger *slog.Logger, opts ...Option) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg, err := registry.New(services)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: assemble registry: %w", err)
	}

	n := &Node{
		cfg:        cfg,
		store:      store,
		upstream:   upstreamClient,
		meta:       meta,
		bus:        bus,
		logger:     logger,
		registry:   reg,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(n)
	}

	n.tips = chainstate.New(store)
	n.applier = applier.New(store, reg, n.tips, meta, cfg.ResolvedMaxTransactionLimit(), bus, logger)
	n.reorg = reorg.New(upstreamClient, n.applier, n.tips, meta, logger)
	n.syncer = syncer.New(upstreamClient, n.applier, n.tips, n.reorg, logger, n.syncerOpts...)

	return n, nil
}

// Run executes the full lifecycle: startup, then steady-state sync until
// SIGINT/SIGTERM, ctx cancellation, or a fatal sync error, then shutdown.
// It returns the process exit code: 0 on a clean stop, 1 if shutdown
// itself failed, -1 on an uncaught fatal error.
func (n *Node) Run(ctx context.Context) int {
	if err := n.startup(ctx); err != nil {
		n.logger.Error("lifecycle: startup failed", "error", err)
		return -1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	driverDone := make(chan error, 1)
	go func() { driverDone <- n.syncer.Run(ctx) }()

	if n.cfg.PublishMempoolTransactions && n.bus != nil {
		go n.publishMempoolTransactions(ctx)
	}

	var fatal error
	select {
	case <-sigCh:
		n.logger.Info("lifecycle: shutdown signal received")
		n.syncer.Stop()
		fatal = <-driverDone
	case <-ctx.Done():
		n.syncer.Stop()
		fatal = <-driverDone
	case fatal = <-driverDone:
		if fatal != nil {
			n.logger.Error("lifecycle: sync driver stopped with a fatal error", "error", fatal)
		}
	}

	stopErr := n.shutdown(context.Background())

	switch {
	case fatal != nil && !errors.Is(fatal, context.Canceled):
		return -1
	case stopErr != nil:
		n.logger.Error("lifecycle: shutdown failed", "error", stopErr)
		return 1
	default:
		return 0
	}
}

// publishMempoolTransactions streams txids the upstream node accepts into
// its mempool and republishes each as a standalone TransactionEvent (Block
// nil) on the Event Bus, gated by an opt-in flag
// (config.Config.PublishMempoolTransactions). No Inputs/Outputs decoding
// happens: nothing in this engine parses raw transaction bytes, so the
// event carries only the raw bytes and txid.
func (n *Node) publishMempoolTransactions(ctx context.Context) {
	txCh, err := n.upstream.Tx(ctx)
	if err != nil {
		n.logger.Warn("lifecycle: subscribe to mempool tx feed failed", "error", err)
		return
	}

	for txid := range txCh {
		raw, err := n.upstream.GetTransaction(ctx, txid, true)
		if err != nil {
			n.logger.Warn("lifecycle: fetch mempool tx failed", "txid", txid, "error", err)
			continue
		}
		tx := &models.Transaction{ID: txid, Raw: raw}
		n.bus.Publish(eventbus.TopicTransaction, eventbus.TransactionEvent{Tx: tx, Block: nil})
	}
}

// startup runs the Version Guard, Tip Load, and Service Registry startup
// steps in order.
func (n *Node) startup(ctx context.Context) error {
	fresh, err := schema.CheckVersion(ctx, n.store)
	if err != nil {
		return fmt.Errorf("lifecycle: version guard: %w", err)
	}

	if err := n.loadTip(ctx, fresh); err != nil {
		return fmt.Errorf("lifecycle: tip load: %w", err)
	}

	if err := n.registry.Start(ctx); err != nil {
		return fmt.Errorf("lifecycle: registry start: %w", err)
	}

	return nil
}

// loadTip runs tip recovery at startup: on a fresh database, bootstrap
// from the genesis block; otherwise verify the persisted serial and
// concurrent tips are still reachable upstream, retrying 3x at 60s
// spacing before declaring the database unrecoverable.
func (n *Node) loadTip(ctx context.Context, fresh bool) error {
	if fresh {
		return n.bootstrapGenesis(ctx)
	}

	serialTip, err := n.tips.SerialTip(ctx)
	if err != nil {
		return err
	}
	if serialTip != nil {
		if err := n.verifyReachable(ctx, serialTip.Hash); err != nil {
			return err
		}
	}

	concurrentTip, err := n.tips.ConcurrentTip(ctx)
	if err != nil {
		return err
	}
	if concurrentTip != nil {
		if err := n.verifyReachable(ctx, concurrentTip.Hash); err != nil {
			return err
		}
	}

	return nil
}

// bootstrapGenesis connect-applies the network's genesis block as height
// 0, giving both tip cursors an initial value.
func (n *Node) bootstrapGenesis(ctx context.Context) error {
	buf, err := n.upstream.GetGenesisBuffer(ctx)
	if err != nil {
		return fmt.Errorf("fetch genesis buffer: %w", err)
	}
	if len(buf) < 80 {
		return fmt.Errorf("genesis buffer too short: got %d bytes, want at least 80", len(buf))
	}
	header := buf[:80]

	genesis := &models.Block{
		Height: 0,
		Hash:   chainhash.DoubleHashH(header),
		Header: header,
	}

	if err := n.applier.Apply(ctx, genesis, true); err != nil {
		return fmt.Errorf("apply genesis block: %w", err)
	}
	return nil
}

// verifyReachable retries fetching hash from the upstream node up to
// n.retries times, spaced n.retryDelay apart, returning ErrTipUnreachable
// on exhaustion.
func (n *Node) verifyReachable(ctx context.Context, hash kvstore.Hash) error {
	attempts := n.retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if _, err := n.upstream.GetBlock(ctx, hash); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.retryDelay):
			}
		}
	}

	return fmt.Errorf("%w: %v", ErrTipUnreachable, lastErr)
}

// shutdown stops every service in reverse dependency order, then closes
// the Store. The Store is closed only after the commit thread has
// drained.
func (n *Node) shutdown(ctx context.Context) error {
	stopErr := n.registry.Stop(ctx)
	closeErr := n.store.Close()
	return errors.Join(stopErr, closeErr)
}
