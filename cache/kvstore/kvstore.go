// Package kvstore implements a persistent key-value store used to cache
// immutable node responses.
package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/akrylysov/pogreb"
	"github.com/oasisprotocol/oasis-core/go/common/cbor"

	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/metrics"
)

// How long OpenKVStore waits for pogreb before continuing without a cache.
const initTimeout = 30 * time.Second

// ErrNoSuchKey is returned when a key is not present in the store.
var ErrNoSuchKey = errors.New("no such key")

// A key in the KVStore.
type CacheKey []byte

// GenerateCacheKey derives a deterministic key from a method name and its params.
func GenerateCacheKey(methodName string, params ...interface{}) CacheKey {
	return CacheKey(cbor.Marshal([]interface{}{methodName, params}))
}

// Pretty returns a human-readable version of the cache key, for debugging only.
func (k CacheKey) Pretty() string {
	var parsed interface{}
	pretty := fmt.Sprintf("%x", []byte(k))
	if err := cbor.Unmarshal(k, &parsed); err == nil {
		pretty = fmt.Sprintf("%+v", parsed)
	}
	if len(pretty) > 100 {
		pretty = pretty[:95] + "[...]"
	}
	return pretty
}

// A key-value store. Typed access is provided by the generic
// Get*FromCacheOrCall functions below.
type KVStore interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Close() error
}

type pogrebKVStore struct {
	db *pogreb.DB

	path    string
	logger  *log.Logger
	metrics *metrics.CacheMetrics // if nil, no metrics are emitted

	// Set once the store has been opened; opening may run in the background.
	initialized atomic.Bool
}

var _ KVStore = (*pogrebKVStore)(nil)

// Get implements KVStore.
// NOTE: Cache hit/miss metrics are not captured if you call this method directly.
func (s *pogrebKVStore) Get(key []byte) ([]byte, error) {
	if !s.initialized.Load() {
		return nil, fmt.Errorf("kvstore: not initialized yet")
	}
	return s.db.Get(key)
}

// Has implements KVStore.
func (s *pogrebKVStore) Has(key []byte) (bool, error) {
	if !s.initialized.Load() {
		return false, nil
	}
	return s.db.Has(key)
}

// Put implements KVStore.
func (s *pogrebKVStore) Put(key []byte, value []byte) error {
	if !s.initialized.Load() {
		s.logger.Debug("skipping write to uninitialized KVStore", "key", CacheKey(key).Pretty())
		return nil
	}
	return s.db.Put(key, value)
}

// Close implements KVStore.
func (s *pogrebKVStore) Close() error {
	if !s.initialized.Load() {
		// A background reindex will have to start over next time.
		s.logger.Warn("skipping closing uninitialized KVStore")
		return nil
	}
	s.logger.Info("closing KVStore", "path", s.path)
	return s.db.Close()
}

// pruneBackups deletes pogreb's nested index backups (*.bac.bac...), which
// otherwise grow without bound when the process crash-loops.
func (s *pogrebKVStore) pruneBackups() {
	files, err := filepath.Glob(filepath.Join(s.path, "*.bac.bac"))
	if err != nil {
		s.logger.Warn("failed to list pogreb backup files", "err", err)
		return
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			s.logger.Warn("failed to delete pogreb backup file", "err", err, "file", f)
		}
	}
}

func (s *pogrebKVStore) init() error {
	s.pruneBackups()

	// If a reindex is needed, this can take hours.
	s.logger.Info("(re)opening KVStore", "path", s.path)
	db, err := pogreb.Open(s.path, &pogreb.Options{BackgroundSyncInterval: -1})
	if err != nil {
		s.logger.Error("failed to initialize pogreb store", "err", err)
		return err
	}

	s.db = db
	s.initialized.Store(true)
	s.logger.Info("KVStore opened", "path", s.path, "entries", db.Count())
	return nil
}

// OpenKVStore initializes a new KVStore backed by a database at `path`, or
// opens an existing one. `metrics` can be nil.
func OpenKVStore(logger *log.Logger, path string, metrics *metrics.CacheMetrics) (KVStore, error) {
	store := &pogrebKVStore{
		logger:  logger,
		path:    path,
		metrics: metrics,
	}

	// pogreb can do a full reindex on startup after a crash:
	// https://github.com/akrylysov/pogreb/issues/35
	initErrCh := make(chan error, 1)
	go func() {
		initErrCh <- store.init()
	}()

	select {
	case err := <-initErrCh:
		if err != nil {
			return nil, err
		}
		return store, nil
	case <-time.After(initTimeout):
		// Run uncached until the reindex finishes. A failed reindex is only logged.
		logger.Warn("KVStore initialization timed out, continuing without cache while the database is reindexing in the background")
		return store, nil
	}
}

func increaseReadCounter(cache KVStore, status metrics.CacheReadStatus) {
	if s, ok := cache.(*pogrebKVStore); ok && s.metrics != nil {
		s.metrics.LocalCacheReads(status).Inc()
	}
}

// FetchTypedValue fetches the value of `key` from the cache, interpreted as a `Value`.
// Returns ErrNoSuchKey on a miss.
func FetchTypedValue[Value any](cache KVStore, key CacheKey, value *Value) error {
	isCached, err := cache.Has(key)
	if err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusError)
		return err
	}
	if !isCached {
		increaseReadCounter(cache, metrics.CacheReadStatusMiss)
		return ErrNoSuchKey
	}
	raw, err := cache.Get(key)
	if err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusError)
		return fmt.Errorf("failed to fetch key %s from cache: %w", key.Pretty(), err)
	}
	if err = cbor.Unmarshal(raw, value); err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusBadValue)
		return fmt.Errorf("failed to unmarshal the value for key %s from cache into %T: %w; raw value was %x", key.Pretty(), value, err, raw)
	}
	increaseReadCounter(cache, metrics.CacheReadStatusHit)
	return nil
}

// GetFromCacheOrCall fetches the value of `key` from the cache if it exists,
// interpreted as a `Value`. Otherwise it calls `valueFunc` and caches the
// result before returning it. Errors from `valueFunc` are never cached.
// If `volatile` is true, `valueFunc` is always called and nothing is cached.
func GetFromCacheOrCall[Value any](cache KVStore, volatile bool, key CacheKey, valueFunc func() (*Value, error)) (*Value, error) {
	if volatile {
		return valueFunc()
	}

	var cached Value
	switch err := FetchTypedValue(cache, key, &cached); {
	case err == nil:
		return &cached, nil
	case errors.Is(err, ErrNoSuchKey):
	default:
		if s, ok := cache.(*pogrebKVStore); ok {
			s.logger.Warn("error fetching value from cache", "key", key.Pretty(), "err", err)
		}
	}

	computed, err := valueFunc()
	if err != nil {
		return nil, err
	}
	return computed, cache.Put(key, cbor.Marshal(computed))
}

// Like GetFromCacheOrCall, but for slice-typed return values.
func GetSliceFromCacheOrCall[Response any](cache KVStore, volatile bool, key CacheKey, valueFunc func() ([]Response, error)) ([]Response, error) {
	responsePtr, err := GetFromCacheOrCall(cache, volatile, key, func() (*[]Response, error) {
		response, err := valueFunc()
		if err != nil {
			return nil, err
		}
		return &response, nil
	})
	if responsePtr == nil {
		return nil, err
	}
	return *responsePtr, err
}
