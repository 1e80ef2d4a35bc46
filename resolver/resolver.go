// Package resolver answers "what is the type hash of item X at block B",
// caching answers per block hash.
package resolver

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/metrics"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

const moduleName = "resolver"

// fetchTimeout bounds a shared metadata fetch, which outlives the callers
// waiting on it.
const fetchTimeout = time.Minute

type cacheKey struct {
	blockHash string
	item      registry.ItemIdentity
}

type resolution struct {
	hash string
	ok   bool
}

// Resolver resolves type hashes through a MetadataSource. Resolved
// (block hash, item) pairs are immutable, so answers are cached and
// concurrent lookups of the same pair share a single fetch. Failed fetches
// are not cached.
type Resolver struct {
	source  nodeapi.MetadataSource
	cache   *lru.Cache[cacheKey, resolution]
	group   singleflight.Group
	metrics metrics.AccessorMetrics
	logger  *log.Logger
}

// New creates a resolver caching up to `cacheSize` answers.
func New(source nodeapi.MetadataSource, cacheSize int, logger *log.Logger) (*Resolver, error) {
	cache, err := lru.New[cacheKey, resolution](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating resolver cache: %w", err)
	}
	return &Resolver{
		source:  source,
		cache:   cache,
		metrics: metrics.NewDefaultAccessorMetrics("chainview"),
		logger:  logger.WithModule(moduleName),
	}, nil
}

// HashOf returns the type hash of `item` at `block`; ok=false if the item
// does not exist there.
func (r *Resolver) HashOf(ctx context.Context, block nodeapi.BlockRef, item registry.ItemIdentity) (string, bool, error) {
	if block.Hash == "" {
		return "", false, fmt.Errorf("resolving %s: block %d has no hash", item, block.Height)
	}
	key := cacheKey{blockHash: block.Hash, item: item}
	if res, ok := r.cache.Get(key); ok {
		r.metrics.ResolverReads(metrics.ResolverReadStatusHit).Inc()
		return res.hash, res.ok, nil
	}

	// The shared fetch is detached from any single caller's cancellation;
	// each caller stops waiting on its own context instead.
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(block.Hash+"/"+item.String(), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(detached, fetchTimeout)
		defer cancel()
		hash, ok, err := r.source.RuntimeTypeHash(fetchCtx, block, item.Section, item.Name)
		if err != nil {
			return nil, err
		}
		res := resolution{hash: registry.NormalizeHash(hash), ok: ok}
		r.cache.Add(key, res)
		return res, nil
	})
	var result singleflight.Result
	select {
	case <-ctx.Done():
		return "", false, fmt.Errorf("resolving %s at block %s: %w", item, block, ctx.Err())
	case result = <-ch:
	}
	v, err, shared := result.Val, result.Err, result.Shared
	if shared {
		r.metrics.ResolverReads(metrics.ResolverReadStatusCoalesced).Inc()
	} else {
		r.metrics.ResolverReads(metrics.ResolverReadStatusMiss).Inc()
	}
	if err != nil {
		r.logger.Debug("type hash lookup failed", "block", block.String(), "item", item.String(), "err", err)
		return "", false, fmt.Errorf("resolving %s at block %s: %w", item, block, err)
	}
	res := v.(resolution)
	return res.hash, res.ok, nil
}
