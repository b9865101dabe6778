// Package syncer implements the Sync Driver: the state machine that walks
// the upstream chain forward from the local tip, applying one block at a
// time, and escalates to the Reorg Handler the moment the expected
// child's parent hash stops matching.
//
// Named syncer rather than sync to avoid shadowing the standard library
// package of that name. Structured as a select loop over a periodic
// ticker, an upstream-tip-changed channel, and a stop channel, driving a
// reusable driver type.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shruggr/chainindex/applier"
	"github.com/shruggr/chainindex/chainstate"
	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/models"
	"github.com/shruggr/chainindex/reorg"
	"github.com/shruggr/chainindex/upstream"
)

// State names a Sync Driver state.
type State int32

const (
	Idle State = iota
	Syncing
	Reorging
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Reorging:
		return "reorging"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ErrUpstreamLost is fatal: the upstream node failed to supply the
// expected next block after the retry budget is exhausted.
var ErrUpstreamLost = errors.New("syncer: upstream lost")

// errCaughtUp is an internal sentinel meaning "no next block yet, and we
// have no evidence the upstream chain has actually moved past us" — a
// normal Idle condition, never surfaced to callers.
var errCaughtUp = errors.New("syncer: caught up")

const (
	defaultTickInterval = 30 * time.Second
	defaultMaxRetries   = 3
	defaultRetryDelay   = 60 * time.Second
)

// Option configures a Driver at construction time.
type Option func(*Driver)

// WithTickInterval overrides the periodic fallback tick that re-checks
// for new blocks even if the upstream tip-changed event is missed.
func WithTickInterval(d time.Duration) Option {
	return func(drv *Driver) { drv.tickInterval = d }
}

// WithRetryPolicy overrides the retry count and spacing used when the
// upstream node fails to supply an expected block. Defaults to 3 retries
// with 60s between attempts.
func WithRetryPolicy(maxRetries int, delay time.Duration) Option {
	return func(drv *Driver) {
		drv.maxRetries = maxRetries
		drv.retryDelay = delay
	}
}

// Driver runs the Sync Driver state machine. Only one apply is ever in
// flight; parallelism exists solely inside one block's concurrent-handler
// fan-out inside the Applier.
type Driver struct {
	upstream upstream.Client
	applier  *applier.Applier
	tips     *chainstate.Tips
	reorg    *reorg.Handler
	logger   *slog.Logger

	tickInterval time.Duration
	maxRetries   int
	retryDelay   time.Duration

	state  atomic.Int32
	stopCh chan struct{}

	// lastKnownUpstreamTip is the most recent hash the upstream node
	// reported as its tip, used only to decide whether a missing next
	// block means "caught up" or "upstream lost our expected child".
	// Run is the sole writer; syncToTip only reads it, and both run on
	// the same goroutine, so no lock is needed.
	lastKnownUpstreamTip kvstore.Hash
}

// New creates a Driver. upstreamClient, blockApplier, tips, and
// reorgHandler must be non-nil; logger may be nil to use slog.Default.
func New(upstreamClient upstream.Client, blockApplier *applier.Applier, tips *chainstate.Tips, reorgHandler *reorg.Handler, logger *slog.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		upstream:     upstreamClient,
		applier:      blockApplier,
		tips:         tips,
		reorg:        reorgHandler,
		logger:       logger,
		tickInterval: defaultTickInterval,
		maxRetries:   defaultMaxRetries,
		retryDelay:   defaultRetryDelay,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the driver's current state. Safe for concurrent use.
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
}

// Stop requests a cooperative shutdown. Run finishes applying whatever
// block is currently in flight, then returns.
func (d *Driver) Stop() {
	d.setState(Stopping)
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
}

// stopping reports whether Stop has been called.
func (d *Driver) stopping() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// Run drives the state machine until Stop is called, ctx is cancelled,
// or a fatal error occurs (ErrUpstreamLost, ErrHandlerFailure,
// ErrReorgFailed). It ticks periodically and reacts to upstream tip
// notifications.
func (d *Driver) Run(ctx context.Context) error {
	tipCh, err := d.upstream.Tip(ctx)
	if err != nil {
		return fmt.Errorf("syncer: subscribe to upstream tip: %w", err)
	}

	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	// State starts at its zero value, Idle; no need to set it explicitly
	// here, which would otherwise race with a Stop() called before Run's
	// first iteration.
	for {
		if d.stopping() {
			return nil
		}

		select {
		case <-d.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case upstreamTip, ok := <-tipCh:
			if !ok {
				tipCh = nil
				continue
			}
			d.lastKnownUpstreamTip = upstreamTip
		}

		if err := d.syncToTip(ctx); err != nil {
			d.logger.Error("syncer: fatal error", "error", err, "state", d.State())
			return err
		}
	}
}

func (d *Driver) syncToTip(ctx context.Context) error {
	for {
		if d.stopping() {
			return nil
		}

		localTip, err := d.tips.SerialTip(ctx)
		if err != nil {
			return fmt.Errorf("syncer: read local tip: %w", err)
		}
		if localTip == nil {
			return fmt.Errorf("syncer: no local tip; tip load must run before Run")
		}

		if localTip.Hash == d.lastKnownUpstreamTip {
			d.setState(Idle)
			return nil
		}

		block, err := d.fetchNextWithRetry(ctx, *localTip)
		if errors.Is(err, errCaughtUp) {
			d.setState(Idle)
			return nil
		}
		if err != nil {
			return err
		}

		if block.ParentHash != localTip.Hash {
			d.setState(Reorging)
			if err := d.reorg.HandleReorg(ctx, block); err != nil {
				return err
			}
			d.setState(Syncing)
			continue
		}

		d.setState(Syncing)
		if err := d.applier.Apply(ctx, block, true); err != nil {
			return fmt.Errorf("syncer: apply height %d: %w", block.Height, err)
		}
	}
}

// fetchNextWithRetry fetches the block at localTip.Height+1. If it is
// absent and we have no evidence the upstream chain is actually ahead of
// us, that is a normal Idle condition (errCaughtUp). If we do have such
// evidence (lastKnownUpstreamTip names a different hash) and the fetch
// keeps failing, this retries up to maxRetries spaced retryDelay apart
// before giving up with ErrUpstreamLost.
func (d *Driver) fetchNextWithRetry(ctx context.Context, localTip models.TipRecord) (*models.Block, error) {
	nextHeight := localTip.Height + 1
	believedBehind := d.lastKnownUpstreamTip != (kvstore.Hash{}) && d.lastKnownUpstreamTip != localTip.Hash

	var lastErr error
	attempts := d.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		block, err := d.upstream.GetBlock(ctx, nextHeight)
		if err == nil {
			return block, nil
		}
		lastErr = err

		// A transport-level error is retried exactly like a missing block;
		// both mean "couldn't get the expected child". ErrNotFound with no
		// evidence we're actually behind is a normal Idle condition.
		if errors.Is(err, upstream.ErrNotFound) && !believedBehind {
			return nil, errCaughtUp
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}
	}

	return nil, fmt.Errorf("%w: height %d: %v", ErrUpstreamLost, nextHeight, lastErr)
}
