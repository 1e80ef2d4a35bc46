// Package registry holds the static table of known item encodings, keyed by
// the content type hash each encoding had on chain.
package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Kind distinguishes storage items from events.
type Kind string

const (
	KindStorage Kind = "storage"
	KindEvent   Kind = "event"
)

// Hasher is the hashing scheme applied to one storage map key part.
type Hasher string

const (
	HasherBlake2_128       Hasher = "blake2_128"
	HasherBlake2_256       Hasher = "blake2_256"
	HasherBlake2_128Concat Hasher = "blake2_128_concat"
	HasherTwox128          Hasher = "twox128"
	HasherTwox256          Hasher = "twox256"
	HasherTwox64Concat     Hasher = "twox64_concat"
	HasherIdentity         Hasher = "identity"
)

func (h Hasher) Validate() error {
	switch h {
	case HasherBlake2_128, HasherBlake2_256, HasherBlake2_128Concat,
		HasherTwox128, HasherTwox256, HasherTwox64Concat, HasherIdentity:
		return nil
	default:
		return fmt.Errorf("unknown hasher %q", string(h))
	}
}

// ItemIdentity names a storage item or event kind, e.g. System.Account.
type ItemIdentity struct {
	Section string
	Name    string
}

func (i ItemIdentity) String() string {
	return i.Section + "." + i.Name
}

// ParseItemIdentity parses "Section.Name".
func ParseItemIdentity(s string) (ItemIdentity, error) {
	section, name, ok := strings.Cut(s, ".")
	if !ok || section == "" || name == "" || strings.Contains(name, ".") {
		return ItemIdentity{}, fmt.Errorf("malformed item identity %q, expected Section.Name", s)
	}
	return ItemIdentity{Section: section, Name: name}, nil
}

// DecoderID names a concrete decoder known to the codec.
type DecoderID string

// VersionEntry is one on-chain encoding of an item.
type VersionEntry struct {
	Item         ItemIdentity
	ExpectedHash string
	Decoder      DecoderID
}

// ItemSchema declares an item. For storage maps, Hashers has one entry per
// key part; plain storage values have none. Events have no hashers.
type ItemSchema struct {
	Item    ItemIdentity
	Kind    Kind
	Hashers []Hasher
}

// Arity is the number of key parts a storage key for this item has.
func (s ItemSchema) Arity() int {
	return len(s.Hashers)
}

// KeyTuple is an ordered composite storage map key.
type KeyTuple []any

// NormalizeHash lowercases a hex hash and strips any 0x prefix.
func NormalizeHash(hash string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(hash, "0x"), "0X"))
}

// Registry is an immutable table of item schemas and encodings. It is safe
// for concurrent use.
type Registry struct {
	schemas  map[ItemIdentity]ItemSchema
	versions map[ItemIdentity][]VersionEntry
	byHash   map[ItemIdentity]map[string]DecoderID
}

// Lookup returns all known encodings of `item` in registration order; empty
// for an unknown item.
func (r *Registry) Lookup(item ItemIdentity) []VersionEntry {
	entries := r.versions[item]
	out := make([]VersionEntry, len(entries))
	copy(out, entries)
	return out
}

// DecoderFor returns the decoder registered for `hash`, if any.
func (r *Registry) DecoderFor(item ItemIdentity, hash string) (DecoderID, bool) {
	d, ok := r.byHash[item][NormalizeHash(hash)]
	return d, ok
}

// Known reports whether `item` has at least one registered encoding.
func (r *Registry) Known(item ItemIdentity) bool {
	return len(r.versions[item]) > 0
}

// Schema returns the declaration of `item`.
func (r *Registry) Schema(item ItemIdentity) (ItemSchema, error) {
	schema, ok := r.schemas[item]
	if !ok || !r.Known(item) {
		return ItemSchema{}, fmt.Errorf("%s: %w", item, ErrUnknownItem)
	}
	return schema, nil
}

// Require checks that every item in `items` is known. Intended for startup,
// so misconfiguration fails before any block is read.
func (r *Registry) Require(items ...ItemIdentity) error {
	var missing []string
	for _, item := range items {
		if !r.Known(item) {
			missing = append(missing, item.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(missing, ", "), ErrUnknownItem)
	}
	return nil
}

// Items returns every known item, sorted.
func (r *Registry) Items() []ItemIdentity {
	items := make([]ItemIdentity, 0, len(r.versions))
	for item := range r.versions {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].String() < items[j].String()
	})
	return items
}

// Decoders returns every decoder id referenced by the registry, sorted.
func (r *Registry) Decoders() []DecoderID {
	seen := map[DecoderID]struct{}{}
	for _, entries := range r.versions {
		for _, e := range entries {
			seen[e.Decoder] = struct{}{}
		}
	}
	out := make([]DecoderID, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
