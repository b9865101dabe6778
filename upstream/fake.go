package upstream

import (
	"context"
	"sync"

	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/models"
)

// Fake is an in-memory Client used by the Sync Driver and Reorg Handler
// tests. It holds every registered block keyed by hash plus
// the currently "best" hash; AddBlock/SetTip mutate it to simulate upstream
// growth and branch switches between test steps.
type Fake struct {
	mu       sync.Mutex
	genesis  []byte
	byHash   map[kvstore.Hash]*models.Block
	tipHash  kvstore.Hash
	tipCh    []chan kvstore.Hash
	txCh     []chan kvstore.Hash
	fee      int64
	mempool  []kvstore.Hash
	sendFunc func(raw []byte) (kvstore.Hash, error)
}

// NewFake creates an empty Fake with the given genesis block bytes.
func NewFake(genesis []byte) *Fake {
	return &Fake{
		genesis: genesis,
		byHash:  make(map[kvstore.Hash]*models.Block),
		fee:     1000,
	}
}

// AddBlock registers a block (without changing the current tip).
func (f *Fake) AddBlock(b *models.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byHash[b.Hash] = b
}

// SetTip advances the simulated upstream tip and notifies Tip subscribers.
func (f *Fake) SetTip(hash kvstore.Hash) {
	f.mu.Lock()
	f.tipHash = hash
	subs := append([]chan kvstore.Hash{}, f.tipCh...)
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- hash:
		default:
		}
	}
}

// TipHash returns the currently simulated upstream tip.
func (f *Fake) TipHash() kvstore.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tipHash
}

func (f *Fake) GetGenesisBuffer(ctx context.Context) ([]byte, error) {
	return f.genesis, nil
}

func (f *Fake) GetBlock(ctx context.Context, hashOrHeight any) (*models.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch v := hashOrHeight.(type) {
	case kvstore.Hash:
		b, ok := f.byHash[v]
		if !ok {
			return nil, ErrNotFound
		}
		return b, nil
	case uint32:
		for _, b := range f.byHash {
			if b.Height == v && b.Hash == f.mainChainHashAt(v) {
				return b, nil
			}
		}
		return nil, ErrNotFound
	default:
		return nil, ErrNotFound
	}
}

// mainChainHashAt walks back from the current tip to find the hash on the
// currently-set branch at height h. Used by GetBlock(height) and
// GetBlockIndex.
func (f *Fake) mainChainHashAt(h uint32) kvstore.Hash {
	cur, ok := f.byHash[f.tipHash]
	if !ok {
		return kvstore.Hash{}
	}
	for cur.Height > h {
		parent, ok := f.byHash[cur.ParentHash]
		if !ok {
			return kvstore.Hash{}
		}
		cur = parent
	}
	if cur.Height == h {
		return cur.Hash
	}
	return kvstore.Hash{}
}

func (f *Fake) GetBlockIndex(ctx context.Context, hash kvstore.Hash) (*BlockIndexEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.byHash[hash]
	if !ok || b.Hash != f.mainChainHashAt(b.Height) {
		return nil, ErrNotFound
	}
	return &BlockIndexEntry{PrevHash: b.ParentHash, Height: b.Height}, nil
}

func (f *Fake) GetMempool(ctx context.Context) ([]kvstore.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kvstore.Hash{}, f.mempool...), nil
}

func (f *Fake) GetTransaction(ctx context.Context, txid kvstore.Hash, includeMempool bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range f.byHash {
		for _, tx := range b.Transactions {
			if tx.ID == txid {
				return tx.Raw, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (f *Fake) SendTransaction(ctx context.Context, raw []byte) (kvstore.Hash, error) {
	if f.sendFunc != nil {
		return f.sendFunc(raw)
	}
	return kvstore.Hash{}, nil
}

func (f *Fake) EstimateFee(ctx context.Context, blocks int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fee, nil
}

func (f *Fake) Tip(ctx context.Context) (<-chan kvstore.Hash, error) {
	ch := make(chan kvstore.Hash, 16)
	f.mu.Lock()
	f.tipCh = append(f.tipCh, ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.tipCh {
			if c == ch {
				f.tipCh = append(f.tipCh[:i], f.tipCh[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (f *Fake) Tx(ctx context.Context) (<-chan kvstore.Hash, error) {
	ch := make(chan kvstore.Hash, 16)
	f.mu.Lock()
	f.txCh = append(f.txCh, ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.txCh {
			if c == ch {
				f.txCh = append(f.txCh[:i], f.txCh[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}
