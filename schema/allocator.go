package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shruggr/chainindex/kvstore"
)

// ErrPrefixExhausted is returned when the next unassigned prefix would
// overflow 16 bits.
var ErrPrefixExhausted = errors.New("schema: service prefix space exhausted")

// firstPrefix is the first prefix value ever handed out; 0x0000 is
// reserved for the system namespace.
const firstPrefix uint16 = 0x0001

// Allocator assigns a unique, immutable 2-byte prefix to each service name,
// persisting the assignment so it survives restarts and is never reused.
//
// Assignment is idempotent: a retried AssignPrefix for a name that already
// has an assignment always returns that same value, even if a previous
// attempt crashed between writing the assignment and bumping nextUnused.
type Allocator struct {
	store kvstore.KVStore
	mu    sync.Mutex
}

// NewAllocator creates an Allocator backed by store.
func NewAllocator(store kvstore.KVStore) *Allocator {
	return &Allocator{store: store}
}

// AssignPrefix returns the prefix assigned to serviceName, allocating a new
// one if none exists yet.
func (a *Allocator) AssignPrefix(ctx context.Context, serviceName string) ([2]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.store.Get(ctx, ServicePrefixKey(serviceName))
	if err != nil {
		return [2]byte{}, fmt.Errorf("allocator: read existing prefix: %w", err)
	}
	if existing != nil {
		return toArray(DecodePrefix(existing)), nil
	}

	nextBytes, err := a.store.Get(ctx, NextUnusedKey())
	if err != nil {
		return [2]byte{}, fmt.Errorf("allocator: read nextUnused: %w", err)
	}
	next := firstPrefix
	if nextBytes != nil {
		next = DecodePrefix(nextBytes)
	}
	// next == 0 means a prior assignment wrapped past 0xFFFF; 0x0000 is the
	// reserved system prefix, so there is nothing left to hand out.
	if next == 0 {
		return [2]byte{}, ErrPrefixExhausted
	}

	assigned := next

	if err := a.store.Put(ctx, ServicePrefixKey(serviceName), EncodePrefix(assigned)); err != nil {
		return [2]byte{}, fmt.Errorf("allocator: persist assignment: %w", err)
	}

	if err := a.store.Put(ctx, NextUnusedKey(), EncodePrefix(next+1)); err != nil {
		return [2]byte{}, fmt.Errorf("allocator: persist nextUnused: %w", err)
	}

	return toArray(assigned), nil
}

func toArray(p uint16) [2]byte {
	return [2]byte(EncodePrefix(p))
}
