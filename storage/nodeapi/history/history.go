// Package history implements a nodeapi.MetadataSource that resolves type
// hashes from a static per-runtime-version manifest.
package history

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

const defaultSpecVersionCacheSize = 10_000

// RuntimeVersionSource reports the runtime version active at a block.
type RuntimeVersionSource interface {
	GetRuntimeVersion(ctx context.Context, blockHash string) (*nodeapi.RuntimeVersion, error)
}

// HistoryMetadataSource maps a block to its runtime spec version using the
// node, then to type hashes using the manifest.
type HistoryMetadataSource struct {
	Manifest *Manifest

	node     RuntimeVersionSource
	versions *lru.Cache[string, uint32]
	group    singleflight.Group
}

var _ nodeapi.MetadataSource = (*HistoryMetadataSource)(nil)

func NewHistoryMetadataSource(manifest *Manifest, node RuntimeVersionSource) (*HistoryMetadataSource, error) {
	versions, err := lru.New[string, uint32](defaultSpecVersionCacheSize)
	if err != nil {
		return nil, err
	}
	return &HistoryMetadataSource{
		Manifest: manifest,
		node:     node,
		versions: versions,
	}, nil
}

// SpecVersion returns the runtime spec version active at `block`.
func (h *HistoryMetadataSource) SpecVersion(ctx context.Context, block nodeapi.BlockRef) (uint32, error) {
	if v, ok := h.versions.Get(block.Hash); ok {
		return v, nil
	}
	// Concurrent lookups for one block share a single node call.
	ch := h.group.DoChan(block.Hash, func() (interface{}, error) {
		version, err := h.node.GetRuntimeVersion(context.WithoutCancel(ctx), block.Hash)
		if err != nil {
			return nil, err
		}
		h.versions.Add(block.Hash, version.SpecVersion)
		return version.SpecVersion, nil
	})
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("getting runtime version at block %s: %w", block, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return 0, fmt.Errorf("getting runtime version at block %s: %w", block, res.Err)
		}
		return res.Val.(uint32), nil
	}
}

// RecordForBlock returns the manifest record in effect at `block`.
func (h *HistoryMetadataSource) RecordForBlock(ctx context.Context, block nodeapi.BlockRef) (*Record, error) {
	specVersion, err := h.SpecVersion(ctx, block)
	if err != nil {
		return nil, err
	}
	record, err := h.Manifest.RecordForSpecVersion(specVersion)
	if err != nil {
		return nil, fmt.Errorf("determining manifest record: %w", err)
	}
	return record, nil
}

func (h *HistoryMetadataSource) RuntimeTypeHash(ctx context.Context, block nodeapi.BlockRef, section string, name string) (string, bool, error) {
	record, err := h.RecordForBlock(ctx, block)
	if err != nil {
		return "", false, err
	}
	hash, ok := record.TypeHash(section, name)
	return hash, ok, nil
}
