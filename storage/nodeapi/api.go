package nodeapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrBlockNotFound is returned when the node does not know the requested block.
	ErrBlockNotFound = errors.New("block not found")
	// ErrInvalidBlockRef is returned by ParseBlockRef for malformed input.
	ErrInvalidBlockRef = errors.New("invalid block reference")
)

// BlockRef identifies a block. Hash is authoritative; Height is informational
// and may be zero when the block was referenced by hash only.
type BlockRef struct {
	Height uint64
	Hash   string
}

func (b BlockRef) String() string {
	if b.Height == 0 {
		return b.Hash
	}
	return fmt.Sprintf("%d (%s)", b.Height, b.Hash)
}

// BlockHashSource resolves block heights to hashes.
type BlockHashSource interface {
	GetBlockHash(ctx context.Context, height uint64) (string, error)
}

// ParseBlockRef accepts a decimal height, resolved through `blocks`, or a
// 0x-prefixed block hash, used as is.
func ParseBlockRef(ctx context.Context, blocks BlockHashSource, s string) (BlockRef, error) {
	if strings.HasPrefix(s, "0x") {
		raw, err := hexutil.Decode(s)
		if err != nil {
			return BlockRef{}, fmt.Errorf("%w: block hash %q: %v", ErrInvalidBlockRef, s, err)
		}
		if len(raw) == 0 {
			return BlockRef{}, fmt.Errorf("%w: empty block hash", ErrInvalidBlockRef)
		}
		return BlockRef{Hash: strings.ToLower(s)}, nil
	}
	height, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return BlockRef{}, fmt.Errorf("%w: %q is neither a height nor a 0x hash", ErrInvalidBlockRef, s)
	}
	hash, err := blocks.GetBlockHash(ctx, height)
	if err != nil {
		return BlockRef{}, err
	}
	return BlockRef{Height: height, Hash: hash}, nil
}

// RawEntry is a single fetched storage value. Absence (Present=false) is
// distinct from a present value that happens to be empty.
type RawEntry struct {
	Key     []byte
	Value   []byte
	Present bool
}

// RuntimeVersion is the subset of `state_getRuntimeVersion` needed to pick
// the type hashes in effect at a block.
type RuntimeVersion struct {
	SpecName    string `json:"specName"`
	SpecVersion uint32 `json:"specVersion"`
}

// MetadataSource reports the content type hash of an item at a block.
type MetadataSource interface {
	// RuntimeTypeHash returns the type hash of (section, name) at `block`.
	// ok=false means the item does not exist in the block's runtime.
	RuntimeTypeHash(ctx context.Context, block BlockRef, section string, name string) (hash string, ok bool, err error)
}

// StorageSource provides raw access to a node's state storage at a given block.
//
// FetchStorageRawMany makes no guarantee about response order and may omit
// keys entirely; callers must re-associate entries by Key.
type StorageSource interface {
	FetchStorageRaw(ctx context.Context, block BlockRef, key []byte) ([]byte, bool, error)
	FetchStorageRawMany(ctx context.Context, block BlockRef, keys [][]byte) ([]RawEntry, error)
	// FetchStorageKeysPage returns up to `limit` entries whose key starts with
	// `prefix`, strictly after `cursor` (nil for the first page). `next` is nil
	// once the key space is exhausted.
	FetchStorageKeysPage(ctx context.Context, block BlockRef, prefix []byte, cursor []byte, limit uint32) (entries []RawEntry, next []byte, err error)
}

// NodeApiLite provides low-level access to a Substrate-style node. Each
// method corresponds to a JSON-RPC method of the node; the interface only
// carries what this library needs.
type NodeApiLite interface {
	StorageSource

	// GetBlockHash resolves a block height to its canonical block hash.
	GetBlockHash(ctx context.Context, height uint64) (string, error)
	GetRuntimeVersion(ctx context.Context, blockHash string) (*RuntimeVersion, error)
	Close() error
}
