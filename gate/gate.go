// Package gate matches the type hash of an item at a block against the
// registered encodings.
package gate

import (
	"context"

	"github.com/oasisprotocol/chainview/metrics"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

// State is the outcome of matching an item at a block.
type State int

const (
	// Present: the item exists and has a registered decoder.
	Present State = iota + 1
	// Absent: the item does not exist at the block.
	Absent
	// Unsupported: the item exists but its hash matches no registered encoding.
	Unsupported
)

func (s State) String() string {
	switch s {
	case Present:
		return "present"
	case Absent:
		return "absent"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Resolution is the per-(block, item) result of Match. Decoder is set only
// when Present; Hash is set for Present and Unsupported.
type Resolution struct {
	State   State
	Decoder registry.DecoderID
	Hash    string
}

// HashResolver is the subset of resolver.Resolver the gate needs.
type HashResolver interface {
	HashOf(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity) (string, bool, error)
}

type Gate struct {
	registry *registry.Registry
	resolver HashResolver
	metrics  metrics.AccessorMetrics
}

func New(reg *registry.Registry, resolver HashResolver) *Gate {
	return &Gate{
		registry: reg,
		resolver: resolver,
		metrics:  metrics.NewDefaultAccessorMetrics("chainview"),
	}
}

// Registry returns the registry the gate matches against.
func (g *Gate) Registry() *registry.Registry {
	return g.registry
}

// Match resolves which encoding of `item` is in effect at `block`. Unknown
// items fail with registry.ErrUnknownItem before any I/O.
func (g *Gate) Match(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity) (Resolution, error) {
	if !g.registry.Known(item) {
		_, err := g.registry.Schema(item)
		return Resolution{}, err
	}

	hash, ok, err := g.resolver.HashOf(ctx, block, item)
	if err != nil {
		return Resolution{}, err
	}

	var res Resolution
	switch decoder, found := g.registry.DecoderFor(item, hash); {
	case !ok:
		res = Resolution{State: Absent}
	case found:
		res = Resolution{State: Present, Decoder: decoder, Hash: hash}
	default:
		res = Resolution{State: Unsupported, Hash: hash}
	}
	g.metrics.GateOutcomes(item.String(), res.State.String()).Inc()
	return res, nil
}

// MatchPresent is Match with Unsupported converted to a
// *registry.UnsupportedVersionError. Absent is returned as-is.
func (g *Gate) MatchPresent(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity) (Resolution, error) {
	res, err := g.Match(ctx, block, item)
	if err != nil {
		return res, err
	}
	if res.State == Unsupported {
		return res, &registry.UnsupportedVersionError{Item: item, Block: block, Hash: res.Hash}
	}
	return res, nil
}
