package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	p2p "github.com/bsv-blockchain/go-p2p-message-bus"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/shruggr/chainindex/kvstore"
)

// TipWatcherConfig configures the gossip transport a TipWatcher listens on.
type TipWatcherConfig struct {
	Port           int
	BootstrapPeers []string
	PrivateKeyHex  string // hex-encoded private key; generated if empty
	TopicPrefix    string // e.g. "livenet", "testnet3"
	PeerCacheFile  string
}

// TipWatcher decorates a Client, replacing its request/response Tip/Tx
// streams with gossip-sourced events pushed by the upstream node's peers:
// each topic is subscribed and forwarded to a bounded internal channel,
// with overflow dropped and logged rather than blocking the publisher.
type TipWatcher struct {
	Client

	cfg    TipWatcherConfig
	logger *slog.Logger

	mu     sync.Mutex
	client p2p.Client
	tipCh  chan kvstore.Hash
	txCh   chan kvstore.Hash
}

// NewTipWatcher wraps base, adding a gossip-driven Tip/Tx feed. Every other
// Client method is forwarded unchanged to base.
func NewTipWatcher(base Client, cfg TipWatcherConfig, logger *slog.Logger) *TipWatcher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "livenet"
	}
	if cfg.PeerCacheFile == "" {
		cfg.PeerCacheFile = "peer_cache.json"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TipWatcher{
		Client: base,
		cfg:    cfg,
		logger: logger,
		tipCh:  make(chan kvstore.Hash, 32),
		txCh:   make(chan kvstore.Hash, 256),
	}
}

// Start connects to the gossip network and begins forwarding tip and
// raw-transaction announcements. It must be called before Tip/Tx are
// consumed.
func (w *TipWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var privKey crypto.PrivKey
	var err error
	if w.cfg.PrivateKeyHex != "" {
		privKey, err = p2p.PrivateKeyFromHex(w.cfg.PrivateKeyHex)
		if err != nil {
			return fmt.Errorf("tipwatcher: decode private key: %w", err)
		}
	} else {
		privKey, err = p2p.GeneratePrivateKey()
		if err != nil {
			return fmt.Errorf("tipwatcher: generate private key: %w", err)
		}
	}

	client, err := p2p.NewClient(p2p.Config{
		Name:           "chainindex-tipwatcher",
		Logger:         newSlogAdapter(w.logger),
		PrivateKey:     privKey,
		Port:           w.cfg.Port,
		PeerCacheFile:  w.cfg.PeerCacheFile,
		BootstrapPeers: w.cfg.BootstrapPeers,
	})
	if err != nil {
		return fmt.Errorf("tipwatcher: create p2p client: %w", err)
	}
	w.client = client

	tipTopic := fmt.Sprintf("chainindex/1.0.0/%s-tip", w.cfg.TopicPrefix)
	txTopic := fmt.Sprintf("chainindex/1.0.0/%s-rawtransaction", w.cfg.TopicPrefix)

	go w.forward(client.Subscribe(tipTopic), w.tipCh, "tip")
	go w.forward(client.Subscribe(txTopic), w.txCh, "rawtransaction")

	w.logger.Info("tip watcher started", "peerID", client.GetID(), "tipTopic", tipTopic, "txTopic", txTopic)
	return nil
}

func (w *TipWatcher) forward(in <-chan p2p.Message, out chan<- kvstore.Hash, topic string) {
	for msg := range in {
		if len(msg.Data) < 32 {
			w.logger.Warn("tip watcher: short message, dropping", "topic", topic, "size", len(msg.Data))
			continue
		}
		var hash kvstore.Hash
		copy(hash[:], msg.Data[:32])

		select {
		case out <- hash:
		default:
			w.logger.Warn("tip watcher: channel full, dropping message", "topic", topic)
		}
	}
}

// Tip returns the gossip-fed tip-change channel, overriding the embedded
// Client's request/response implementation.
func (w *TipWatcher) Tip(ctx context.Context) (<-chan kvstore.Hash, error) {
	return w.tipCh, nil
}

// Tx returns the gossip-fed mempool-accept channel, overriding the
// embedded Client's request/response implementation.
func (w *TipWatcher) Tx(ctx context.Context) (<-chan kvstore.Hash, error) {
	return w.txCh, nil
}

// Stop disconnects from the gossip network.
func (w *TipWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// PeerCount reports the number of connected gossip peers.
func (w *TipWatcher) PeerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.client == nil {
		return 0
	}
	return len(w.client.GetPeers())
}

// slogAdapter adapts *slog.Logger to go-p2p-message-bus's logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func newSlogAdapter(l *slog.Logger) *slogAdapter { return &slogAdapter{l: l} }

func (a *slogAdapter) Debugf(format string, v ...any) { a.l.Debug(fmt.Sprintf(format, v...)) }
func (a *slogAdapter) Infof(format string, v ...any)  { a.l.Info(fmt.Sprintf(format, v...)) }
func (a *slogAdapter) Warnf(format string, v ...any)  { a.l.Warn(fmt.Sprintf(format, v...)) }
func (a *slogAdapter) Errorf(format string, v ...any) { a.l.Error(fmt.Sprintf(format, v...)) }
