// Package config enables config file parsing.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/oasisprotocol/chainview/log"
)

const (
	// DefaultBatchSize is the default number of storage keys per node query.
	DefaultBatchSize = 256
	// DefaultPageSize is the default number of keys fetched per enumeration page.
	DefaultPageSize = 1000
	// DefaultMaxConcurrency is the default number of concurrent node queries per call.
	DefaultMaxConcurrency = 4
	// DefaultResolverCacheSize is the default number of (block, item) type hashes kept in memory.
	DefaultResolverCacheSize = 100_000
)

// Config contains the CLI configuration.
type Config struct {
	Source  *SourceConfig  `koanf:"source"`
	Server  *ServerConfig  `koanf:"server"`
	Log     *LogConfig     `koanf:"log"`
	Metrics *MetricsConfig `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Source != nil {
		if err := cfg.Source.Validate(); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	}
	if cfg.Server != nil {
		if err := cfg.Server.Validate(); err != nil {
			return fmt.Errorf("server: %w", err)
		}
		if cfg.Source == nil {
			return fmt.Errorf("server: requires a source config")
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// SourceConfig describes the node to read from and the static tables
// needed to decode what it returns.
type SourceConfig struct {
	// RPC is the JSON-RPC endpoint of the node (http(s):// or ws(s)://).
	RPC string `koanf:"rpc"`

	// Declarations is the path to the YAML file declaring all known items
	// and their encodings.
	Declarations string `koanf:"declarations"`

	// Manifest is the path to the YAML file mapping runtime spec versions to
	// the type hashes of the items present in that runtime.
	Manifest string `koanf:"manifest"`

	// Cache holds the configuration for a file-based caching backend.
	Cache *CacheConfig `koanf:"cache"`

	// BatchSize is the maximum number of storage keys per node query.
	BatchSize int `koanf:"batch_size"`

	// PageSize is the number of keys requested per page when enumerating
	// a storage map.
	PageSize uint32 `koanf:"page_size"`

	// MaxConcurrency bounds the number of concurrent node queries issued
	// by a single multi-key read.
	MaxConcurrency int `koanf:"max_concurrency"`

	// ResolverCacheSize is the number of (block, item) type hashes kept in memory.
	ResolverCacheSize int `koanf:"resolver_cache_size"`
}

// Validate validates the source configuration.
func (cfg *SourceConfig) Validate() error {
	if cfg.RPC == "" {
		return fmt.Errorf("rpc not configured")
	}
	if cfg.Declarations == "" {
		return fmt.Errorf("declarations not configured")
	}
	if cfg.Manifest == "" {
		return fmt.Errorf("manifest not configured")
	}
	if cfg.Cache != nil {
		if err := cfg.Cache.Validate(); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if cfg.BatchSize < 0 || cfg.MaxConcurrency < 0 || cfg.ResolverCacheSize < 0 {
		return fmt.Errorf("batch_size, max_concurrency and resolver_cache_size must not be negative")
	}
	return nil
}

// WithDefaults returns a copy of the config with zero-valued tuning knobs
// replaced by their defaults.
func (cfg SourceConfig) WithDefaults() SourceConfig {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.ResolverCacheSize == 0 {
		cfg.ResolverCacheSize = DefaultResolverCacheSize
	}
	return cfg
}

type CacheConfig struct {
	// CacheDir is the directory where the cache data is stored
	CacheDir string `koanf:"cache_dir"`

	// If set, the node is queried upon any cache misses. Otherwise, a
	// cache miss is an error.
	QueryOnCacheMiss bool `koanf:"query_on_cache_miss"`
}

func (cfg *CacheConfig) Validate() error {
	if cfg.CacheDir == "" {
		return fmt.Errorf("invalid cache filepath")
	}
	return nil
}

// ServerConfig contains the API server configuration.
type ServerConfig struct {
	// Endpoint is the service endpoint from which to serve the API.
	Endpoint string `koanf:"endpoint"`

	// RequestTimeout is the timeout for a single API request.
	RequestTimeout *time.Duration `koanf:"request_timeout"`
}

// Validate validates the server configuration.
func (cfg *ServerConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed server endpoint '%s'", cfg.Endpoint)
	}
	if cfg.RequestTimeout != nil && *cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`

	// PprofEndpoint, if set, exposes net/http/pprof on a separate listener.
	PprofEndpoint string `koanf:"pprof_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

// InitConfig initializes configuration from file.
func InitConfig(f string) (*Config, error) {
	return initConfig(file.Provider(f))
}

func initConfig(p koanf.Provider) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider("CHAINVIEW_", ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CHAINVIEW_")), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
