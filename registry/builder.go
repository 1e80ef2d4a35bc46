package registry

import (
	"errors"
	"fmt"
	"slices"
)

// Builder accumulates declarations and encodings. Errors are collected and
// reported together by Build.
type Builder struct {
	schemas  map[ItemIdentity]ItemSchema
	versions map[ItemIdentity][]VersionEntry
	byHash   map[ItemIdentity]map[string]DecoderID
	errs     []error
}

func NewBuilder() *Builder {
	return &Builder{
		schemas:  map[ItemIdentity]ItemSchema{},
		versions: map[ItemIdentity][]VersionEntry{},
		byHash:   map[ItemIdentity]map[string]DecoderID{},
	}
}

func (b *Builder) fail(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

// Declare adds an item schema. Declaring the same schema twice is a no-op.
func (b *Builder) Declare(schema ItemSchema) *Builder {
	item := schema.Item
	if item.Section == "" || item.Name == "" {
		return b.fail(fmt.Errorf("item %q: section and name are required", item))
	}
	switch schema.Kind {
	case KindStorage:
		for _, h := range schema.Hashers {
			if err := h.Validate(); err != nil {
				return b.fail(fmt.Errorf("%s: %w", item, err))
			}
		}
	case KindEvent:
		if len(schema.Hashers) > 0 {
			return b.fail(fmt.Errorf("%s: events take no key hashers", item))
		}
	default:
		return b.fail(fmt.Errorf("%s: unknown kind %q", item, schema.Kind))
	}
	if prev, ok := b.schemas[item]; ok {
		if prev.Kind != schema.Kind || !slices.Equal(prev.Hashers, schema.Hashers) {
			return b.fail(fmt.Errorf("%s: conflicting declarations", item))
		}
		return b
	}
	schema.Hashers = slices.Clone(schema.Hashers)
	b.schemas[item] = schema
	return b
}

// Register records that `item` encoded with type hash `expectedHash` is
// decoded by `decoder`. Registering an identical (hash, decoder) pair again
// is a no-op; the same hash with another decoder is ErrDuplicateHash.
func (b *Builder) Register(item ItemIdentity, expectedHash string, decoder DecoderID) *Builder {
	if _, ok := b.schemas[item]; !ok {
		return b.fail(fmt.Errorf("%s: registering undeclared item: %w", item, ErrUnknownItem))
	}
	hash := NormalizeHash(expectedHash)
	if hash == "" {
		return b.fail(fmt.Errorf("%s: empty type hash", item))
	}
	if decoder == "" {
		return b.fail(fmt.Errorf("%s: empty decoder id for hash %s", item, hash))
	}

	hashes := b.byHash[item]
	if hashes == nil {
		hashes = map[string]DecoderID{}
		b.byHash[item] = hashes
	}
	if existing, ok := hashes[hash]; ok {
		if existing == decoder {
			return b
		}
		return b.fail(fmt.Errorf("%s: hash %s maps to both %s and %s: %w", item, hash, existing, decoder, ErrDuplicateHash))
	}
	hashes[hash] = decoder
	b.versions[item] = append(b.versions[item], VersionEntry{
		Item:         item,
		ExpectedHash: hash,
		Decoder:      decoder,
	})
	return b
}

// Build freezes the table. The builder must not be used afterwards.
func (b *Builder) Build() (*Registry, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return &Registry{
		schemas:  b.schemas,
		versions: b.versions,
		byHash:   b.byHash,
	}, nil
}
