package accessor

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/oasisprotocol/chainview/dispatch"
	"github.com/oasisprotocol/chainview/gate"
	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

// errNoProgress is returned when the node keeps returning the same page cursor.
var errNoProgress = errors.New("key enumeration did not advance")

// ErrBadCursor is returned by GetPage for a cursor outside the item's key space.
var ErrBadCursor = errors.New("invalid page cursor")

// StorageAccessor reads storage items. It holds no per-request state and is
// safe for concurrent use.
type StorageAccessor struct {
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	source     nodeapi.StorageSource
	keys       KeyEncoder
	opts       Options
	logger     *log.Logger
}

func NewStorageAccessor(g *gate.Gate, d *dispatch.Dispatcher, source nodeapi.StorageSource, keys KeyEncoder, opts Options, logger *log.Logger) *StorageAccessor {
	return &StorageAccessor{
		gate:       g,
		dispatcher: d,
		source:     source,
		keys:       keys,
		opts:       opts.withDefaults(),
		logger:     logger.WithModule(moduleName),
	}
}

func (a *StorageAccessor) schema(item registry.ItemIdentity) (registry.ItemSchema, error) {
	schema, err := a.gate.Registry().Schema(item)
	if err != nil {
		return schema, err
	}
	if schema.Kind != registry.KindStorage {
		return schema, fmt.Errorf("%s is an %s item: %w", item, schema.Kind, registry.ErrWrongKind)
	}
	return schema, nil
}

// Exists reports whether `item` exists at `block` with a registered encoding.
func (a *StorageAccessor) Exists(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity) (bool, error) {
	if _, err := a.schema(item); err != nil {
		return false, err
	}
	res, err := a.gate.Match(ctx, block, item)
	if err != nil {
		return false, err
	}
	return res.State == gate.Present, nil
}

// Get returns the decoded value of `item` at `key`, or ok=false if there is
// none. Plain storage values take an empty key.
func (a *StorageAccessor) Get(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity, key registry.KeyTuple) (any, bool, error) {
	schema, err := a.schema(item)
	if err != nil {
		return nil, false, err
	}
	storageKey, err := StorageKey(schema, a.keys, key)
	if err != nil {
		return nil, false, err
	}
	res, err := a.gate.MatchPresent(ctx, block, item)
	if err != nil || res.State == gate.Absent {
		return nil, false, err
	}

	raw, ok, err := a.source.FetchStorageRaw(ctx, block, storageKey)
	if err != nil {
		return nil, false, fmt.Errorf("fetching %s at block %s: %w", item, block, err)
	}
	if !ok {
		return nil, false, nil
	}
	value, err := a.dispatcher.Decode(item, res.Decoder, storageKey, raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// GetMany reads `keys` of `item`. The result has exactly one entry per
// requested key, in request order. Duplicate keys are fetched once.
// A key that fails to decode only sets its own Entry.Err.
func (a *StorageAccessor) GetMany(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity, keys []registry.KeyTuple) ([]Entry, error) {
	schema, err := a.schema(item)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, len(keys))
	var unique [][]byte
	seen := map[string]struct{}{}
	for i, key := range keys {
		storageKey, err := StorageKey(schema, a.keys, key)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		out[i] = Entry{Key: key, StorageKey: storageKey}
		if _, ok := seen[string(storageKey)]; !ok {
			seen[string(storageKey)] = struct{}{}
			unique = append(unique, storageKey)
		}
	}

	res, err := a.gate.MatchPresent(ctx, block, item)
	if err != nil {
		return nil, err
	}
	if res.State == gate.Absent || len(unique) == 0 {
		return out, nil
	}

	fetched, err := a.fetchBatched(ctx, block, unique)
	if err != nil {
		return nil, fmt.Errorf("fetching %s at block %s: %w", item, block, err)
	}

	// Re-associate by key value; the node's order and coverage are undefined.
	raw := make([]nodeapi.RawEntry, len(unique))
	index := make(map[string]int, len(unique))
	for i, k := range unique {
		raw[i] = nodeapi.RawEntry{Key: k}
		index[string(k)] = i
	}
	for _, e := range fetched {
		if i, ok := index[string(e.Key)]; ok {
			raw[i] = nodeapi.RawEntry{Key: raw[i].Key, Value: e.Value, Present: e.Present}
		}
	}

	decoded := a.dispatcher.DecodeMany(item, res.Decoder, raw)
	for i := range out {
		d := decoded[index[string(out[i].StorageKey)]]
		out[i].Value, out[i].Present, out[i].Err = d.Value, d.Present, d.Err
	}
	return out, nil
}

// fetchBatched fetches `keys` in chunks of BatchSize with at most
// MaxConcurrency chunks in flight. Results of a failed or canceled call are
// discarded.
func (a *StorageAccessor) fetchBatched(ctx context.Context, block nodeapi.BlockRef, keys [][]byte) ([]nodeapi.RawEntry, error) {
	var chunks [][][]byte
	for start := 0; start < len(keys); start += a.opts.BatchSize {
		end := min(start+a.opts.BatchSize, len(keys))
		chunks = append(chunks, keys[start:end])
	}

	results := make([][]nodeapi.RawEntry, len(chunks))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.opts.MaxConcurrency)
	for i, chunk := range chunks {
		group.Go(func() error {
			entries, err := a.source.FetchStorageRawMany(groupCtx, block, chunk)
			if err != nil {
				return err
			}
			results[i] = entries
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var all []nodeapi.RawEntry
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// GetAll enumerates every key of `item` at `block` in the node's enumeration
// order and decodes each value. Entries have StorageKey set and a nil Key.
func (a *StorageAccessor) GetAll(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity) ([]Entry, error) {
	res, err := a.enumerable(ctx, block, item)
	if err != nil || res.State == gate.Absent {
		return nil, err
	}

	var out []Entry
	var cursor []byte
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, next, err := a.page(ctx, block, item, res.Decoder, cursor, a.opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		out = append(out, entries...)

		if next == nil {
			break
		}
		if cursor != nil && bytes.Equal(next, cursor) {
			return nil, fmt.Errorf("enumerating %s at block %s: %w", item, block, errNoProgress)
		}
		cursor = next
	}
	a.logger.Debug("enumerated storage item", "item", item.String(), "block", block.String(), "entries", len(out))
	return out, nil
}

// GetPage returns up to `limit` entries of `item` whose storage keys sort
// strictly after `after` (nil for the first page), and the cursor for the
// following page. The cursor is nil once the map is exhausted.
func (a *StorageAccessor) GetPage(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity, after []byte, limit uint32) ([]Entry, []byte, error) {
	if after != nil && !bytes.HasPrefix(after, ItemPrefix(item)) {
		return nil, nil, fmt.Errorf("%w: 0x%x is not a key of %s", ErrBadCursor, after, item)
	}
	if limit == 0 {
		limit = a.opts.PageSize
	}
	res, err := a.enumerable(ctx, block, item)
	if err != nil || res.State == gate.Absent {
		return nil, nil, err
	}
	return a.page(ctx, block, item, res.Decoder, after, limit)
}

func (a *StorageAccessor) enumerable(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity) (gate.Resolution, error) {
	if _, err := a.schema(item); err != nil {
		return gate.Resolution{}, err
	}
	return a.gate.MatchPresent(ctx, block, item)
}

func (a *StorageAccessor) page(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity, decoder registry.DecoderID, cursor []byte, limit uint32) ([]Entry, []byte, error) {
	entries, next, err := a.source.FetchStorageKeysPage(ctx, block, ItemPrefix(item), cursor, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerating %s at block %s: %w", item, block, err)
	}

	var present []nodeapi.RawEntry
	for _, e := range entries {
		if e.Present {
			present = append(present, e)
		}
	}
	out := make([]Entry, 0, len(present))
	for _, d := range a.dispatcher.DecodeMany(item, decoder, present) {
		out = append(out, Entry{StorageKey: d.Key, Value: d.Value, Present: d.Present, Err: d.Err})
	}
	return out, next, nil
}
