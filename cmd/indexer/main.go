package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shruggr/chainindex/config"
	"github.com/shruggr/chainindex/eventbus"
	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/kvstore/badger"
	"github.com/shruggr/chainindex/kvstore/memory"
	"github.com/shruggr/chainindex/lifecycle"
	"github.com/shruggr/chainindex/metadata"
	"github.com/shruggr/chainindex/metadata/sqlite"
	"github.com/shruggr/chainindex/registry"
	"github.com/shruggr/chainindex/schema"
	"github.com/shruggr/chainindex/services/addressindex"
	"github.com/shruggr/chainindex/services/txindex"
	"github.com/shruggr/chainindex/upstream"
)

// splitAndTrim splits a string by delim, trimming whitespace from each
// part and dropping empties.
func splitAndTrim(s, delim string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, delim)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func main() {
	storageType := flag.String("storage", "badger", "storage backend: memory or badger")
	dataDir := flag.String("data-dir", "./data", "data directory")
	network := flag.String("network", "livenet", "network: livenet, testnet, or regtest")
	upstreamAddr := flag.String("upstream-addr", "http://127.0.0.1:8332", "upstream node RPC address")
	p2pPort := flag.Int("p2p-port", 9905, "gossip listen port for the tip watcher")
	topicPrefix := flag.String("topic-prefix", "livenet", "gossip topic prefix (livenet, testnet3, etc.)")
	bootstrapPeers := flag.String("bootstrap-peers", "", "comma-separated bootstrap peer multiaddrs")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	publishMempoolTx := flag.Bool("publish-mempool-tx", false, "publish mempool-accepted transactions on the event bus")
	maxTxLimit := flag.Int("max-tx-limit", config.DefaultMaxTransactionLimit, "cap on in-block prior-output lookups per transaction applied during transaction decoration")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, runArgs{
		storageType:      *storageType,
		dataDir:          *dataDir,
		network:          config.Network(*network),
		upstreamAddr:     *upstreamAddr,
		p2pPort:          *p2pPort,
		topicPrefix:      *topicPrefix,
		bootstrapPeers:   splitAndTrim(*bootstrapPeers, ","),
		publishMempoolTx: *publishMempoolTx,
		maxTxLimit:       *maxTxLimit,
	}); err != nil {
		logger.Error("chainindex: fatal startup error", "error", err)
		os.Exit(-1)
	}
}

type runArgs struct {
	storageType      string
	dataDir          string
	network          config.Network
	upstreamAddr     string
	p2pPort          int
	topicPrefix      string
	bootstrapPeers   []string
	publishMempoolTx bool
	maxTxLimit       int
}

// run wires every concrete adapter (storage, upstream client, metadata,
// event bus, leaf-indexer plugins) into a lifecycle.Node and blocks until
// it exits. The process exit code is set via os.Exit at the call site
// instead of here, so deferred Close calls still run first.
func run(logger *slog.Logger, args runArgs) error {
	cfg := &config.Config{
		DataDir:                    args.dataDir,
		Network:                    args.network,
		UpstreamAddr:               args.upstreamAddr,
		PublishMempoolTransactions: args.publishMempoolTx,
		MaxTransactionLimit:        args.maxTxLimit,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("chainindex: invalid config: %w", err)
	}

	store, err := openStore(args.storageType, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	meta, err := openMetadata(ctx, cfg)
	if err != nil {
		return err
	}
	defer meta.Close()

	upstreamClient := upstream.NewTipWatcher(upstream.NewHTTPClient(args.upstreamAddr), upstream.TipWatcherConfig{
		Port:           args.p2pPort,
		BootstrapPeers: args.bootstrapPeers,
		TopicPrefix:    args.topicPrefix,
	}, logger)
	if err := upstreamClient.Start(ctx); err != nil {
		return fmt.Errorf("chainindex: start tip watcher: %w", err)
	}
	defer upstreamClient.Stop()

	allocator := schema.NewAllocator(store)
	txidx := txindex.New(store, allocator)
	addridx, err := addressindex.New(store, allocator)
	if err != nil {
		return fmt.Errorf("chainindex: construct addressindex service: %w", err)
	}
	services := []registry.Service{txidx, addridx}

	bus := eventbus.New(logger)
	node, err := lifecycle.New(cfg, store, upstreamClient, services, meta, bus, logger)
	if err != nil {
		return fmt.Errorf("chainindex: assemble node: %w", err)
	}

	logger.Info("chainindex: starting", "network", cfg.Network, "dataDir", cfg.DataDir, "peerCount", upstreamClient.PeerCount())

	code := node.Run(ctx)
	if code != 0 {
		return fmt.Errorf("chainindex: node exited with code %d", code)
	}
	return nil
}

func openStore(storageType string, cfg *config.Config, logger *slog.Logger) (kvstore.KVStore, error) {
	switch storageType {
	case "memory":
		return memory.New(), nil
	case "badger":
		dataPath, err := cfg.DataPath()
		if err != nil {
			return nil, fmt.Errorf("chainindex: resolve data path: %w", err)
		}
		return badger.New(&badger.Config{
			DataDir:      dataPath,
			MaxOpenFiles: cfg.ResolvedMaxOpenFiles(),
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("chainindex: unknown storage type %q (use \"memory\" or \"badger\")", storageType)
	}
}

// openMetadata opens the orphan/subtree bookkeeping store the Reorg
// Handler consults alongside the single tip record.
func openMetadata(ctx context.Context, cfg *config.Config) (metadata.Store, error) {
	dbPath := filepath.Join(cfg.DataDir, "metadata.sqlite3")
	return sqlite.New(ctx, &sqlite.Config{DBPath: dbPath})
}
