package schema

import (
	"context"
	"fmt"

	"github.com/shruggr/chainindex/kvstore"
)

// ErrVersionMismatch reports that the on-disk schema version does not match
// the version this build expects. It carries both versions so the operator
// can be told precisely what to reindex.
type ErrVersionMismatch struct {
	Stored  uint32
	Current uint32
}

func (e *ErrVersionMismatch) Error() string {
	return fmt.Sprintf("chainindex: schema version mismatch: on-disk version %d, this build expects %d; reindex required", e.Stored, e.Current)
}

// CheckVersion guards startup against opening a database with an
// incompatible schema. A database is
// "fresh" when it has no tip record yet; a fresh database is stamped with
// CurrentVersion and accepted. Otherwise the stored version (absence
// implies the legacy value 1) must equal CurrentVersion or startup fails.
// CheckVersion never mutates an existing non-fresh database.
func CheckVersion(ctx context.Context, store kvstore.KVStore) (fresh bool, err error) {
	tip, err := store.Get(ctx, TipKey())
	if err != nil {
		return false, fmt.Errorf("version guard: read tip: %w", err)
	}

	if tip == nil {
		if err := store.Put(ctx, VersionKey(), EncodeVersion(CurrentVersion)); err != nil {
			return false, fmt.Errorf("version guard: stamp version: %w", err)
		}
		return true, nil
	}

	storedBytes, err := store.Get(ctx, VersionKey())
	if err != nil {
		return false, fmt.Errorf("version guard: read version: %w", err)
	}

	stored := legacyVersion
	if storedBytes != nil {
		stored = DecodeVersion(storedBytes)
	}

	if stored != CurrentVersion {
		return false, &ErrVersionMismatch{Stored: stored, Current: CurrentVersion}
	}

	return false, nil
}
