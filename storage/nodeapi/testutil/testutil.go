// Package testutil provides an in-memory node for tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

// MemoryBlock is the state of a single block.
type MemoryBlock struct {
	Height      uint64
	Hash        string
	SpecVersion uint32
	// Storage maps raw storage keys (as strings) to values.
	Storage map[string][]byte
	// TypeHashes maps "Section.Name" to the item's type hash at this block.
	// Items not listed do not exist at this block.
	TypeHashes map[string]string
}

// MemoryNode is a nodeapi.NodeApiLite and nodeapi.MetadataSource serving
// blocks from memory. FetchStorageRawMany returns entries in reverse order
// and omits absent keys, which the interface allows.
type MemoryNode struct {
	mu      sync.Mutex
	blocks  map[string]*MemoryBlock
	heights map[uint64]string
	calls   map[string]int

	inFlight    int
	maxInFlight int

	// Delay is applied to every FetchStorageRawMany call.
	Delay time.Duration
	// Err, if set, is returned by every call.
	Err error
}

var (
	_ nodeapi.NodeApiLite    = (*MemoryNode)(nil)
	_ nodeapi.MetadataSource = (*MemoryNode)(nil)
)

func NewMemoryNode(blocks ...*MemoryBlock) *MemoryNode {
	n := &MemoryNode{
		blocks:  map[string]*MemoryBlock{},
		heights: map[uint64]string{},
		calls:   map[string]int{},
	}
	for _, b := range blocks {
		n.AddBlock(b)
	}
	return n
}

func (n *MemoryNode) AddBlock(b *MemoryBlock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks[b.Hash] = b
	n.heights[b.Height] = b.Hash
}

// Ref returns the BlockRef of the block at `height`.
func (n *MemoryNode) Ref(height uint64) nodeapi.BlockRef {
	n.mu.Lock()
	defer n.mu.Unlock()
	return nodeapi.BlockRef{Height: height, Hash: n.heights[height]}
}

// Calls returns how many times `method` was called.
func (n *MemoryNode) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// MaxInFlight returns the highest number of concurrent FetchStorageRawMany calls seen.
func (n *MemoryNode) MaxInFlight() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.maxInFlight
}

func (n *MemoryNode) enter(method string, hash string) (*MemoryBlock, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[method]++
	if n.Err != nil {
		return nil, n.Err
	}
	b, ok := n.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", hash, nodeapi.ErrBlockNotFound)
	}
	return b, nil
}

func (n *MemoryNode) Close() error { return nil }

func (n *MemoryNode) GetBlockHash(ctx context.Context, height uint64) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls["GetBlockHash"]++
	if n.Err != nil {
		return "", n.Err
	}
	hash, ok := n.heights[height]
	if !ok {
		return "", fmt.Errorf("height %d: %w", height, nodeapi.ErrBlockNotFound)
	}
	return hash, nil
}

func (n *MemoryNode) GetRuntimeVersion(ctx context.Context, blockHash string) (*nodeapi.RuntimeVersion, error) {
	b, err := n.enter("GetRuntimeVersion", blockHash)
	if err != nil {
		return nil, err
	}
	return &nodeapi.RuntimeVersion{SpecName: "memory", SpecVersion: b.SpecVersion}, nil
}

func (n *MemoryNode) RuntimeTypeHash(ctx context.Context, block nodeapi.BlockRef, section string, name string) (string, bool, error) {
	b, err := n.enter("RuntimeTypeHash", block.Hash)
	if err != nil {
		return "", false, err
	}
	hash, ok := b.TypeHashes[section+"."+name]
	return hash, ok, nil
}

func (n *MemoryNode) FetchStorageRaw(ctx context.Context, block nodeapi.BlockRef, key []byte) ([]byte, bool, error) {
	b, err := n.enter("FetchStorageRaw", block.Hash)
	if err != nil {
		return nil, false, err
	}
	v, ok := b.Storage[string(key)]
	return v, ok, nil
}

func (n *MemoryNode) FetchStorageRawMany(ctx context.Context, block nodeapi.BlockRef, keys [][]byte) ([]nodeapi.RawEntry, error) {
	b, err := n.enter("FetchStorageRawMany", block.Hash)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.inFlight++
	if n.inFlight > n.maxInFlight {
		n.maxInFlight = n.inFlight
	}
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.inFlight--
		n.mu.Unlock()
	}()

	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entries := make([]nodeapi.RawEntry, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := b.Storage[string(keys[i])]; ok {
			entries = append(entries, nodeapi.RawEntry{Key: keys[i], Value: v, Present: true})
		}
	}
	return entries, nil
}

func (n *MemoryNode) FetchStorageKeysPage(ctx context.Context, block nodeapi.BlockRef, prefix []byte, cursor []byte, limit uint32) ([]nodeapi.RawEntry, []byte, error) {
	b, err := n.enter("FetchStorageKeysPage", block.Hash)
	if err != nil {
		return nil, nil, err
	}

	var keys []string
	for k := range b.Storage {
		if bytes.HasPrefix([]byte(k), prefix) && (cursor == nil || k > string(cursor)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var next []byte
	if uint32(len(keys)) > limit {
		keys = keys[:limit]
	}
	if len(keys) > 0 && uint32(len(keys)) == limit {
		next = []byte(keys[len(keys)-1])
	}
	entries := make([]nodeapi.RawEntry, len(keys))
	for i, k := range keys {
		entries[i] = nodeapi.RawEntry{Key: []byte(k), Value: b.Storage[k], Present: true}
	}
	return entries, next, nil
}
