package accessor

import (
	"context"
	"fmt"

	"github.com/oasisprotocol/chainview/dispatch"
	"github.com/oasisprotocol/chainview/gate"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

// RawEvent is the undecoded payload of one event occurrence.
type RawEvent struct {
	Item registry.ItemIdentity
	Data []byte
}

// EventAccessor decodes events with the encoding in effect at their block.
type EventAccessor struct {
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
}

func NewEventAccessor(g *gate.Gate, d *dispatch.Dispatcher) *EventAccessor {
	return &EventAccessor{gate: g, dispatcher: d}
}

func (a *EventAccessor) resolve(ctx context.Context, block nodeapi.BlockRef, event registry.ItemIdentity) (gate.Resolution, error) {
	schema, err := a.gate.Registry().Schema(event)
	if err != nil {
		return gate.Resolution{}, err
	}
	if schema.Kind != registry.KindEvent {
		return gate.Resolution{}, fmt.Errorf("%s is a %s item: %w", event, schema.Kind, registry.ErrWrongKind)
	}
	res, err := a.gate.MatchPresent(ctx, block, event)
	if err != nil {
		return res, err
	}
	if res.State == gate.Absent {
		return res, fmt.Errorf("%s at block %s: %w", event, block, registry.ErrNotPresent)
	}
	return res, nil
}

// DecodeEvent decodes one occurrence of `event` emitted at `block`.
func (a *EventAccessor) DecodeEvent(ctx context.Context, block nodeapi.BlockRef, event registry.ItemIdentity, raw []byte) (any, error) {
	res, err := a.resolve(ctx, block, event)
	if err != nil {
		return nil, err
	}
	return a.dispatcher.Decode(event, res.Decoder, nil, raw)
}

// DecodeEvents decodes all events of a block. The result is in input order;
// every failure, including version resolution, is attributed to its own entry.
func (a *EventAccessor) DecodeEvents(ctx context.Context, block nodeapi.BlockRef, events []RawEvent) []Entry {
	out := make([]Entry, len(events))
	resolved := map[registry.ItemIdentity]gate.Resolution{}
	failed := map[registry.ItemIdentity]error{}
	for i, ev := range events {
		out[i] = Entry{Key: registry.KeyTuple{ev.Item.String()}}
		if err, ok := failed[ev.Item]; ok {
			out[i].Err = err
			continue
		}
		res, ok := resolved[ev.Item]
		if !ok {
			var err error
			if res, err = a.resolve(ctx, block, ev.Item); err != nil {
				failed[ev.Item] = err
				out[i].Err = err
				continue
			}
			resolved[ev.Item] = res
		}
		out[i].Present = true
		out[i].Value, out[i].Err = a.dispatcher.Decode(ev.Item, res.Decoder, nil, ev.Data)
	}
	return out
}
