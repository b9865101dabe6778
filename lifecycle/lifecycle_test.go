package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shruggr/chainindex/config"
	"github.com/shruggr/chainindex/kvstore/memory"
	"github.com/shruggr/chainindex/schema"
	"github.com/shruggr/chainindex/upstream"
)

func testConfig() *config.Config {
	return &config.Config{DataDir: "/tmp/chainindex-lifecycle-test", Network: config.Regtest}
}

// TestFreshStartBootstrapsGenesis verifies that an empty data dir stamps
// version=2 and sets the tip to the genesis block at height 0.
func TestFreshStartBootstrapsGenesis(t *testing.T) {
	genesisHeader := make([]byte, 80)
	genesisHeader[0] = 0x01

	store := memory.New()
	fake := upstream.NewFake(genesisHeader)

	node, err := New(testConfig(), store, fake, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := node.startup(ctx); err != nil {
		t.Fatalf("startup() error = %v", err)
	}

	versionBytes, err := store.Get(ctx, schema.VersionKey())
	if err != nil || versionBytes == nil {
		t.Fatalf("version key not stamped: %v, %v", versionBytes, err)
	}
	if got := schema.DecodeVersion(versionBytes); got != schema.CurrentVersion {
		t.Fatalf("stored version = %d, want %d", got, schema.CurrentVersion)
	}

	tip, err := node.tips.SerialTip(ctx)
	if err != nil || tip == nil {
		t.Fatalf("SerialTip() = %v, %v", tip, err)
	}
	if tip.Height != 0 {
		t.Fatalf("tip.Height = %d, want 0", tip.Height)
	}

	if err := node.shutdown(ctx); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

// TestVersionMismatchFailsStartup verifies that a database written with
// version 1 refuses to start against a build expecting version 2, reporting
// both the stored and the expected version.
func TestVersionMismatchFailsStartup(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	// Simulate a non-fresh v1 database: a tip record already exists, but no
	// explicit version key (absence implies legacy version 1).
	if err := store.Put(ctx, schema.TipKey(), make([]byte, 36)); err != nil {
		t.Fatalf("seed tip: %v", err)
	}

	fake := upstream.NewFake(nil)
	node, err := New(testConfig(), store, fake, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = node.startup(ctx)
	var mismatch *schema.ErrVersionMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("startup() error = %v, want *schema.ErrVersionMismatch", err)
	}
	if mismatch.Stored != 1 || mismatch.Current != schema.CurrentVersion {
		t.Fatalf("mismatch = %+v, want Stored=1 Current=%d", mismatch, schema.CurrentVersion)
	}
}

// TestTipUnreachableAfterRetriesFails verifies that a persisted tip whose
// block the upstream node can no longer supply is fatal after the retry
// budget is exhausted.
func TestTipUnreachableAfterRetriesFails(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	// A non-fresh database naming a tip the fake upstream never learns
	// about.
	if err := store.Put(ctx, schema.TipKey(), make([]byte, 36)); err != nil {
		t.Fatalf("seed tip: %v", err)
	}
	if err := store.Put(ctx, schema.VersionKey(), schema.EncodeVersion(schema.CurrentVersion)); err != nil {
		t.Fatalf("seed version: %v", err)
	}

	fake := upstream.NewFake(nil)
	node, err := New(testConfig(), store, fake, nil, nil, nil, nil,
		WithRetryPolicy(2, time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = node.startup(ctx)
	if !errors.Is(err, ErrTipUnreachable) {
		t.Fatalf("startup() error = %v, want ErrTipUnreachable", err)
	}
}
