package common

import (
	"context"
	"fmt"
	"sort"

	"github.com/oasisprotocol/chainview/accessor"
	"github.com/oasisprotocol/chainview/codec"
	"github.com/oasisprotocol/chainview/config"
	"github.com/oasisprotocol/chainview/dispatch"
	"github.com/oasisprotocol/chainview/gate"
	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/resolver"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
	"github.com/oasisprotocol/chainview/storage/nodeapi/file"
	"github.com/oasisprotocol/chainview/storage/nodeapi/history"
	"github.com/oasisprotocol/chainview/storage/nodeapi/rpc"
)

// Source is the full read stack over one node.
type Source struct {
	Node     nodeapi.NodeApiLite
	Registry *registry.Registry
	Storage  *accessor.StorageAccessor
	Events   *accessor.EventAccessor
}

// NewSource loads the declarations and manifest, connects to the node and
// wires the accessors. Every declared decoder must exist in `c`.
func NewSource(ctx context.Context, cfg *config.SourceConfig, c *codec.Codec, logger *log.Logger) (*Source, error) {
	tuning := cfg.WithDefaults()

	reg, err := registry.LoadDeclarations(cfg.Declarations)
	if err != nil {
		return nil, fmt.Errorf("loading declarations: %w", err)
	}
	if err = c.Check(reg.Decoders()...); err != nil {
		return nil, fmt.Errorf("declarations reference missing decoders: %w", err)
	}
	manifest, err := history.LoadManifest(cfg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	warnUnregisteredHashes(reg, manifest, logger)

	node, err := NewNode(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	metadata, err := history.NewHistoryMetadataSource(manifest, node)
	if err != nil {
		CloseNode(node, logger)
		return nil, err
	}
	res, err := resolver.New(metadata, tuning.ResolverCacheSize, logger)
	if err != nil {
		CloseNode(node, logger)
		return nil, err
	}

	g := gate.New(reg, res)
	d := dispatch.New(c)
	opts := accessor.Options{
		BatchSize:      tuning.BatchSize,
		PageSize:       tuning.PageSize,
		MaxConcurrency: tuning.MaxConcurrency,
	}
	return &Source{
		Node:     node,
		Registry: reg,
		Storage:  accessor.NewStorageAccessor(g, d, node, c, opts, logger),
		Events:   accessor.NewEventAccessor(g, d),
	}, nil
}

// NewNode connects to the configured node, wrapped in the file cache if one
// is configured. With a cache and query_on_cache_miss unset, no connection
// is made and every miss is an error.
func NewNode(ctx context.Context, cfg *config.SourceConfig, logger *log.Logger) (nodeapi.NodeApiLite, error) {
	var node nodeapi.NodeApiLite
	if cfg.Cache == nil || cfg.Cache.QueryOnCacheMiss {
		rpcNode, err := rpc.NewSubstrateApiLite(ctx, cfg.RPC, logger)
		if err != nil {
			return nil, err
		}
		node = rpcNode
	}
	if cfg.Cache == nil {
		return node, nil
	}
	logger.Info("using file cache for node responses",
		"cache_dir", cfg.Cache.CacheDir,
		"query_on_cache_miss", cfg.Cache.QueryOnCacheMiss,
	)
	cached, err := file.NewFileNodeApiLite(cfg.Cache.CacheDir, node)
	if err != nil {
		if node != nil {
			CloseNode(node, logger)
		}
		return nil, fmt.Errorf("opening node cache: %w", err)
	}
	return cached, nil
}

func CloseNode(node nodeapi.NodeApiLite, logger *log.Logger) {
	if err := node.Close(); err != nil {
		logger.Warn("failed to close node", "err", err)
	}
}

func (s *Source) Close(logger *log.Logger) {
	CloseNode(s.Node, logger)
}

// warnUnregisteredHashes logs manifest type hashes that no declaration
// covers. Reads of those items at the affected versions will be unsupported.
func warnUnregisteredHashes(reg *registry.Registry, manifest *history.Manifest, logger *log.Logger) {
	for _, rec := range manifest.Records {
		var missing []string
		for section, names := range rec.Items {
			for name, hash := range names {
				item := registry.ItemIdentity{Section: section, Name: name}
				if _, ok := reg.DecoderFor(item, hash); !ok {
					missing = append(missing, item.String())
				}
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			logger.Warn("manifest type hashes without a registered decoder",
				"spec_version", rec.SpecVersion,
				"items", missing,
			)
		}
	}
}
