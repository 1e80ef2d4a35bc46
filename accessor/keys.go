package accessor

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/oasisprotocol/chainview/registry"
)

// KeyEncoder encodes a single key part before it is hashed.
type KeyEncoder interface {
	EncodeKeyPart(part any) ([]byte, error)
}

// twox returns xxh64 of data with seeds 0..n-1, each little-endian.
func twox(data []byte, n int) []byte {
	out := make([]byte, 0, 8*n)
	for seed := 0; seed < n; seed++ {
		h := xxhash.NewWithSeed(uint64(seed))
		_, _ = h.Write(data)
		out = binary.LittleEndian.AppendUint64(out, h.Sum64())
	}
	return out
}

func blake2(data []byte, size int) []byte {
	h, err := blake2b.New(size, nil)
	if err != nil {
		// Only fails for invalid sizes or keys.
		panic(err)
	}
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// Twox128 is the hash used for section and item name prefixes.
func Twox128(data []byte) []byte {
	return twox(data, 2)
}

func hashKeyPart(hasher registry.Hasher, encoded []byte) ([]byte, error) {
	switch hasher {
	case registry.HasherBlake2_128:
		return blake2(encoded, 16), nil
	case registry.HasherBlake2_256:
		return blake2(encoded, 32), nil
	case registry.HasherBlake2_128Concat:
		return append(blake2(encoded, 16), encoded...), nil
	case registry.HasherTwox128:
		return twox(encoded, 2), nil
	case registry.HasherTwox256:
		return twox(encoded, 4), nil
	case registry.HasherTwox64Concat:
		return append(twox(encoded, 1), encoded...), nil
	case registry.HasherIdentity:
		return encoded, nil
	default:
		return nil, fmt.Errorf("unknown hasher %q", string(hasher))
	}
}

// ItemPrefix returns twox128(section) ++ twox128(name).
func ItemPrefix(item registry.ItemIdentity) []byte {
	return append(Twox128([]byte(item.Section)), Twox128([]byte(item.Name))...)
}

// StorageKey builds the full storage key of `key` under `schema`. The key
// must have exactly schema.Arity() parts.
func StorageKey(schema registry.ItemSchema, encoder KeyEncoder, key registry.KeyTuple) ([]byte, error) {
	if len(key) != schema.Arity() {
		return nil, fmt.Errorf("%s takes %d key parts, got %d: %w", schema.Item, schema.Arity(), len(key), registry.ErrKeyArity)
	}
	out := ItemPrefix(schema.Item)
	for i, part := range key {
		encoded, err := encoder.EncodeKeyPart(part)
		if err != nil {
			return nil, fmt.Errorf("%s key part %d: %w", schema.Item, i, err)
		}
		hashed, err := hashKeyPart(schema.Hashers[i], encoded)
		if err != nil {
			return nil, err
		}
		out = append(out, hashed...)
	}
	return out, nil
}
