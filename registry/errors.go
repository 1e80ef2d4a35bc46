package registry

import (
	"errors"
	"fmt"

	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

var (
	// ErrUnknownItem is returned for items with no registered encodings.
	ErrUnknownItem = errors.New("unknown item")
	// ErrDuplicateHash is returned by Build when one item maps a type hash
	// to two different decoders.
	ErrDuplicateHash = errors.New("duplicate type hash")
	// ErrUnsupportedVersion is returned when an item exists at a block but its
	// type hash matches none of the registered encodings.
	ErrUnsupportedVersion = errors.New("unsupported item version")
	// ErrKeyArity is returned when a storage key has the wrong number of parts.
	ErrKeyArity = errors.New("wrong number of key parts")
	// ErrNotPresent is returned when an event kind does not exist at a block.
	ErrNotPresent = errors.New("item not present at block")
	// ErrWrongKind is returned when a storage item is read as an event or vice versa.
	ErrWrongKind = errors.New("wrong item kind")
)

// UnsupportedVersionError carries the unmatched hash. It matches ErrUnsupportedVersion.
type UnsupportedVersionError struct {
	Item  ItemIdentity
	Block nodeapi.BlockRef
	Hash  string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("%s at block %s: no decoder for type hash %s", e.Item, e.Block, e.Hash)
}

func (e *UnsupportedVersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}
