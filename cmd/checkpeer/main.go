package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/shruggr/chainindex/upstream"
)

// checkpeer joins the gossip mesh for a short window and reports how many
// peers it saw, using the same upstream.TipWatcher transport the indexer
// uses to track the upstream tip.
func main() {
	bootstrapPeer := "/dns4/teranode-bootstrap-stage.bsvb.tech/tcp/9901/p2p/12D3KooWJ6kQHAR65xkA34NABsNVAJyVxPWh8JUSo1vtZsTyw4GD"

	watcher := upstream.NewTipWatcher(upstream.NewFake(nil), upstream.TipWatcherConfig{
		Port:           9906, // different port than the indexer, to avoid conflicts
		BootstrapPeers: []string{bootstrapPeer},
		TopicPrefix:    "teratestnet",
	}, slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if err := watcher.Start(context.Background()); err != nil {
		log.Fatalf("failed to start tip watcher: %v", err)
	}
	defer watcher.Stop()

	const settleWindow = 5 * time.Second
	fmt.Printf("joined gossip mesh, waiting %s for peers to connect...\n", settleWindow)
	time.Sleep(settleWindow)

	count := watcher.PeerCount()
	fmt.Printf("connected peers: %d\n", count)
	if count == 0 {
		fmt.Println("no peers found; bootstrap node may be unreachable")
		os.Exit(1)
	}
}
