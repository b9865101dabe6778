package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/models"
)

// HTTPClient is a thin JSON-over-HTTP adapter onto an upstream node's
// RPC surface. It is deliberately minimal: the real wire protocol is out
// of scope for the indexing core; this exists so the core's
// Client interface has one concrete, non-fake implementation — a
// short-timeout *http.Client issuing one request per call, context-aware,
// error-wrapped.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates an HTTPClient against baseURL (e.g.
// "http://127.0.0.1:8332").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		return fmt.Errorf("upstream: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upstream: %s: unexpected status %d: %s", method, resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream: %s: decode response: %w", method, err)
	}
	return nil
}

func (c *HTTPClient) GetGenesisBuffer(ctx context.Context) ([]byte, error) {
	var out []byte
	if err := c.call(ctx, "getGenesisBuffer", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetBlock(ctx context.Context, hashOrHeight any) (*models.Block, error) {
	var out models.Block
	if err := c.call(ctx, "getBlock", hashOrHeight, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetBlockIndex(ctx context.Context, hash kvstore.Hash) (*BlockIndexEntry, error) {
	var out BlockIndexEntry
	if err := c.call(ctx, "getBlockIndex", hash, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetMempool(ctx context.Context) ([]kvstore.Hash, error) {
	var out []kvstore.Hash
	if err := c.call(ctx, "getMempool", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetTransaction(ctx context.Context, txid kvstore.Hash, includeMempool bool) ([]byte, error) {
	var out []byte
	params := map[string]any{"txid": txid, "includeMempool": includeMempool}
	if err := c.call(ctx, "getTransaction", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) SendTransaction(ctx context.Context, raw []byte) (kvstore.Hash, error) {
	var out kvstore.Hash
	if err := c.call(ctx, "sendTransaction", raw, &out); err != nil {
		return kvstore.Hash{}, fmt.Errorf("%w: %v", ErrBroadcast, err)
	}
	return out, nil
}

func (c *HTTPClient) EstimateFee(ctx context.Context, blocks int) (int64, error) {
	var out int64
	if err := c.call(ctx, "estimateFee", blocks, &out); err != nil {
		return 0, err
	}
	return out, nil
}

// Tip and Tx are not exposed by the request/response RPC surface; the
// engine wires gossip-sourced events instead (see upstream.TipWatcher).
func (c *HTTPClient) Tip(ctx context.Context) (<-chan kvstore.Hash, error) {
	ch := make(chan kvstore.Hash)
	close(ch)
	return ch, nil
}

func (c *HTTPClient) Tx(ctx context.Context) (<-chan kvstore.Hash, error) {
	ch := make(chan kvstore.Hash)
	close(ch)
	return ch, nil
}
