// Package rpc implements nodeapi.NodeApiLite over a Substrate node's JSON-RPC API.
package rpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/metrics"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

const moduleName = "node_rpc"

// changeSet is one element of the `state_queryStorageAt` response.
type changeSet struct {
	Block   string              `json:"block"`
	Changes [][2]*hexutil.Bytes `json:"changes"`
}

// SubstrateApiLite talks to a single node over JSON-RPC (HTTP or websocket).
type SubstrateApiLite struct {
	client  *rpc.Client
	metrics metrics.NodeMetrics
	logger  *log.Logger
}

var _ nodeapi.NodeApiLite = (*SubstrateApiLite)(nil)

// NewSubstrateApiLite dials the node at `url`.
func NewSubstrateApiLite(ctx context.Context, url string, logger *log.Logger) (*SubstrateApiLite, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("rpc DialContext %s: %w", url, err)
	}
	return NewSubstrateApiLiteFromClient(client, logger), nil
}

// NewSubstrateApiLiteFromClient wraps an already-connected rpc client.
func NewSubstrateApiLiteFromClient(client *rpc.Client, logger *log.Logger) *SubstrateApiLite {
	return &SubstrateApiLite{
		client:  client,
		metrics: metrics.NewDefaultNodeMetrics("chainview"),
		logger:  logger.WithModule(moduleName),
	}
}

func (c *SubstrateApiLite) Close() error {
	c.client.Close()
	return nil
}

func (c *SubstrateApiLite) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	timer := c.metrics.NodeLatencies(method)
	defer timer.ObserveDuration()

	if err := c.client.CallContext(ctx, result, method, args...); err != nil {
		c.metrics.NodeRequests(method, "failure").Inc()
		c.logger.Debug("node request failed", "method", method, "err", err)
		return fmt.Errorf("%s: %w", method, err)
	}
	c.metrics.NodeRequests(method, "success").Inc()
	return nil
}

func (c *SubstrateApiLite) GetBlockHash(ctx context.Context, height uint64) (string, error) {
	var hash *string
	if err := c.call(ctx, &hash, "chain_getBlockHash", height); err != nil {
		return "", err
	}
	if hash == nil {
		return "", fmt.Errorf("height %d: %w", height, nodeapi.ErrBlockNotFound)
	}
	return *hash, nil
}

func (c *SubstrateApiLite) GetRuntimeVersion(ctx context.Context, blockHash string) (*nodeapi.RuntimeVersion, error) {
	var version nodeapi.RuntimeVersion
	if err := c.call(ctx, &version, "state_getRuntimeVersion", blockHash); err != nil {
		return nil, err
	}
	return &version, nil
}

func (c *SubstrateApiLite) FetchStorageRaw(ctx context.Context, block nodeapi.BlockRef, key []byte) ([]byte, bool, error) {
	var value *hexutil.Bytes
	if err := c.call(ctx, &value, "state_getStorage", hexutil.Bytes(key), block.Hash); err != nil {
		return nil, false, err
	}
	if value == nil {
		return nil, false, nil
	}
	return *value, true, nil
}

func (c *SubstrateApiLite) FetchStorageRawMany(ctx context.Context, block nodeapi.BlockRef, keys [][]byte) ([]nodeapi.RawEntry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	params := make([]hexutil.Bytes, len(keys))
	for i, k := range keys {
		params[i] = k
	}

	var sets []changeSet
	if err := c.call(ctx, &sets, "state_queryStorageAt", params, block.Hash); err != nil {
		return nil, err
	}

	entries := make([]nodeapi.RawEntry, 0, len(keys))
	for _, set := range sets {
		for _, change := range set.Changes {
			if change[0] == nil {
				return nil, fmt.Errorf("state_queryStorageAt: change without a key at block %s", block)
			}
			entry := nodeapi.RawEntry{Key: *change[0]}
			if change[1] != nil {
				entry.Value = *change[1]
				entry.Present = true
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (c *SubstrateApiLite) FetchStorageKeysPage(ctx context.Context, block nodeapi.BlockRef, prefix []byte, cursor []byte, limit uint32) ([]nodeapi.RawEntry, []byte, error) {
	var start *hexutil.Bytes
	if cursor != nil {
		start = (*hexutil.Bytes)(&cursor)
	}
	var keys []hexutil.Bytes
	if err := c.call(ctx, &keys, "state_getKeysPaged", hexutil.Bytes(prefix), limit, start, block.Hash); err != nil {
		return nil, nil, err
	}
	if len(keys) == 0 {
		return nil, nil, nil
	}

	raw := make([][]byte, len(keys))
	for i, k := range keys {
		raw[i] = k
	}
	fetched, err := c.FetchStorageRawMany(ctx, block, raw)
	if err != nil {
		return nil, nil, err
	}
	byKey := make(map[string]nodeapi.RawEntry, len(fetched))
	for _, e := range fetched {
		byKey[string(e.Key)] = e
	}

	// Keep the node's enumeration order.
	entries := make([]nodeapi.RawEntry, len(raw))
	for i, k := range raw {
		entry, ok := byKey[string(k)]
		if !ok {
			entry = nodeapi.RawEntry{Key: k}
		}
		entries[i] = entry
	}

	var next []byte
	if uint32(len(keys)) >= limit {
		next = raw[len(raw)-1]
	}
	return entries, next, nil
}
