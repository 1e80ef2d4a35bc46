// Package file implements a nodeapi.NodeApiLite that caches node responses
// on disk. Responses scoped to a block hash are immutable and cached forever.
package file

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisprotocol/chainview/cache/kvstore"
	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/metrics"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

// ErrCacheMiss is returned on a cache miss when no backing node is configured.
var ErrCacheMiss = errors.New("not in cache and no node configured")

// storageValue is the cacheable form of a single FetchStorageRaw response.
type storageValue struct {
	Value   []byte
	Present bool
}

// keysPage is the cacheable form of a FetchStorageKeysPage response.
type keysPage struct {
	Entries []nodeapi.RawEntry
	Next    []byte
}

// FileNodeApiLite serves node requests from a KVStore, falling back to the
// wrapped node on a miss. If the node is nil, every miss is an error.
type FileNodeApiLite struct {
	db   kvstore.KVStore
	node nodeapi.NodeApiLite
}

var _ nodeapi.NodeApiLite = (*FileNodeApiLite)(nil)

func NewFileNodeApiLite(cacheDir string, node nodeapi.NodeApiLite) (*FileNodeApiLite, error) {
	m := metrics.NewDefaultCacheMetrics("node")
	db, err := kvstore.OpenKVStore(
		log.NewDefaultLogger("cached-node-api"),
		cacheDir,
		&m,
	)
	if err != nil {
		return nil, err
	}
	return &FileNodeApiLite{
		db:   db,
		node: node,
	}, nil
}

func (c *FileNodeApiLite) Close() error {
	// Close all resources and return the first encountered error, if any.
	var firstErr error
	if c.node != nil {
		firstErr = c.node.Close()
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *FileNodeApiLite) nodeOrMiss(method string) (nodeapi.NodeApiLite, error) {
	if c.node == nil {
		return nil, fmt.Errorf("%s: %w", method, ErrCacheMiss)
	}
	return c.node, nil
}

// GetBlockHash is not cached: the canonical hash at a height can change
// until the block is finalized.
func (c *FileNodeApiLite) GetBlockHash(ctx context.Context, height uint64) (string, error) {
	node, err := c.nodeOrMiss("GetBlockHash")
	if err != nil {
		return "", err
	}
	return node.GetBlockHash(ctx, height)
}

func (c *FileNodeApiLite) GetRuntimeVersion(ctx context.Context, blockHash string) (*nodeapi.RuntimeVersion, error) {
	return kvstore.GetFromCacheOrCall(
		c.db, false,
		kvstore.GenerateCacheKey("GetRuntimeVersion", blockHash),
		func() (*nodeapi.RuntimeVersion, error) {
			node, err := c.nodeOrMiss("GetRuntimeVersion")
			if err != nil {
				return nil, err
			}
			return node.GetRuntimeVersion(ctx, blockHash)
		},
	)
}

func (c *FileNodeApiLite) FetchStorageRaw(ctx context.Context, block nodeapi.BlockRef, key []byte) ([]byte, bool, error) {
	v, err := kvstore.GetFromCacheOrCall(
		c.db, false,
		kvstore.GenerateCacheKey("FetchStorageRaw", block.Hash, key),
		func() (*storageValue, error) {
			node, err := c.nodeOrMiss("FetchStorageRaw")
			if err != nil {
				return nil, err
			}
			value, ok, err := node.FetchStorageRaw(ctx, block, key)
			if err != nil {
				return nil, err
			}
			return &storageValue{Value: value, Present: ok}, nil
		},
	)
	if err != nil {
		return nil, false, err
	}
	return v.Value, v.Present, nil
}

// FetchStorageRawMany caches per key, so overlapping batches share entries.
// Only the keys missing from the cache are requested from the node.
func (c *FileNodeApiLite) FetchStorageRawMany(ctx context.Context, block nodeapi.BlockRef, keys [][]byte) ([]nodeapi.RawEntry, error) {
	entries := make([]nodeapi.RawEntry, 0, len(keys))
	var missing [][]byte
	for _, key := range keys {
		var cached storageValue
		err := kvstore.FetchTypedValue(c.db, kvstore.GenerateCacheKey("FetchStorageRaw", block.Hash, key), &cached)
		if err != nil {
			missing = append(missing, key)
			continue
		}
		entries = append(entries, nodeapi.RawEntry{Key: key, Value: cached.Value, Present: cached.Present})
	}
	if len(missing) == 0 {
		return entries, nil
	}

	node, err := c.nodeOrMiss("FetchStorageRawMany")
	if err != nil {
		return nil, err
	}
	fetched, err := node.FetchStorageRawMany(ctx, block, missing)
	if err != nil {
		return nil, err
	}
	for _, e := range fetched {
		if err := c.db.Put(
			kvstore.GenerateCacheKey("FetchStorageRaw", block.Hash, e.Key),
			cborValue(storageValue{Value: e.Value, Present: e.Present}),
		); err != nil {
			return nil, fmt.Errorf("caching storage value: %w", err)
		}
	}
	return append(entries, fetched...), nil
}

func (c *FileNodeApiLite) FetchStorageKeysPage(ctx context.Context, block nodeapi.BlockRef, prefix []byte, cursor []byte, limit uint32) ([]nodeapi.RawEntry, []byte, error) {
	page, err := kvstore.GetFromCacheOrCall(
		c.db, false,
		kvstore.GenerateCacheKey("FetchStorageKeysPage", block.Hash, prefix, cursor, limit),
		func() (*keysPage, error) {
			node, err := c.nodeOrMiss("FetchStorageKeysPage")
			if err != nil {
				return nil, err
			}
			entries, next, err := node.FetchStorageKeysPage(ctx, block, prefix, cursor, limit)
			if err != nil {
				return nil, err
			}
			return &keysPage{Entries: entries, Next: next}, nil
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return page.Entries, page.Next, nil
}
